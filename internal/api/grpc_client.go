package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/validate"
)

// GRPCClient is a broker.Simulator backed by a remote Trading service.
type GRPCClient struct {
	cc grpc.ClientConnInterface
}

var _ broker.Simulator = (*GRPCClient)(nil)

// NewGRPCClient wraps an established connection.
func NewGRPCClient(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

// Name returns "simulator-grpc".
func (c *GRPCClient) Name() string { return "simulator-grpc" }

func (c *GRPCClient) invoke(ctx context.Context, method string, in any, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+TradingServiceName+"/"+method, req, resp); err != nil {
		return fromGRPCError(err)
	}
	if out == nil {
		return nil
	}
	return fromStruct(resp, out)
}

// fromGRPCError maps status codes back onto the shared error taxonomy.
func fromGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		field, reason, found := strings.Cut(st.Message(), ": ")
		if !found {
			field, reason = "request", st.Message()
		}
		return &validate.ValidationError{Field: field, Reason: reason}
	case codes.NotFound:
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", domain.ErrStatusConflict, st.Message())
	}
	return err
}

func (c *GRPCClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	var o domain.Order
	if err := c.invoke(ctx, "SubmitOrder", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *GRPCClient) CancelOrder(ctx context.Context, orderID string) error {
	return c.invoke(ctx, "CancelOrder", map[string]string{"id": orderID}, nil)
}

func (c *GRPCClient) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var o domain.Order
	if err := c.invoke(ctx, "GetOrder", map[string]string{"id": orderID}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *GRPCClient) ListOrders(ctx context.Context, filter domain.StatusFilter) ([]domain.Order, error) {
	var out struct {
		Orders []domain.Order `json:"orders"`
	}
	if err := c.invoke(ctx, "ListOrders", map[string]string{"status": string(filter)}, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

func (c *GRPCClient) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	var acct domain.AccountInfo
	if err := c.invoke(ctx, "GetAccount", struct{}{}, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (c *GRPCClient) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	var out struct {
		Position *domain.Position `json:"position"`
	}
	if err := c.invoke(ctx, "GetPosition", map[string]string{"symbol": symbol}, &out); err != nil {
		return nil, err
	}
	return out.Position, nil
}

func (c *GRPCClient) GetPositions(ctx context.Context) ([]domain.Position, error) {
	var out struct {
		Positions []domain.Position `json:"positions"`
	}
	if err := c.invoke(ctx, "GetPositions", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

func (c *GRPCClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var q PriceQuote
	if err := c.invoke(ctx, "GetPrice", map[string]string{"symbol": symbol}, &q); err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

func (c *GRPCClient) SetPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	return c.invoke(ctx, "SetPrice", PriceQuote{Symbol: symbol, Price: price}, nil)
}

func (c *GRPCClient) Reset(ctx context.Context, opts broker.ResetOptions) error {
	return c.invoke(ctx, "Reset", opts, nil)
}

// StreamOrders opens the order event stream. The returned channel closes
// when ctx is cancelled or the stream fails; the error, if any, is sent on
// errc.
func (c *GRPCClient) StreamOrders(ctx context.Context) (<-chan domain.OrderEvent, <-chan error, error) {
	stream, err := c.cc.NewStream(ctx, &TradingServiceDesc.Streams[0], "/"+TradingServiceName+"/StreamOrders")
	if err != nil {
		return nil, nil, fmt.Errorf("starting stream: %w", err)
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.SendMsg(empty()); err != nil {
		return nil, nil, fmt.Errorf("starting stream: %w", err)
	}
	if err := x.CloseSend(); err != nil {
		return nil, nil, fmt.Errorf("starting stream: %w", err)
	}

	events := make(chan domain.OrderEvent, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			msg, err := x.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
					errc <- err
				}
				return
			}
			var evt domain.OrderEvent
			if err := fromStruct(msg, &evt); err != nil {
				errc <- err
				return
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, errc, nil
}
