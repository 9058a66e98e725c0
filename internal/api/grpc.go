package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
)

// TradingServiceName is the fully-qualified gRPC service name.
const TradingServiceName = "simbroker.v1.Trading"

// TradingServer is the server API for the Trading service. Every message is a
// google.protobuf.Struct whose fields mirror the REST JSON bodies.
type TradingServer interface {
	SubmitOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPosition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPositions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPrice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetPrice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamOrders(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

type unaryMethod func(TradingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + TradingServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TradingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TradingServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func streamOrdersHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(TradingServer).StreamOrders(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// TradingServiceDesc describes the Trading service for grpc.Server.RegisterService.
var TradingServiceDesc = grpc.ServiceDesc{
	ServiceName: TradingServiceName,
	HandlerType: (*TradingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitOrder", TradingServer.SubmitOrder),
		unary("CancelOrder", TradingServer.CancelOrder),
		unary("GetOrder", TradingServer.GetOrder),
		unary("ListOrders", TradingServer.ListOrders),
		unary("GetAccount", TradingServer.GetAccount),
		unary("GetPosition", TradingServer.GetPosition),
		unary("GetPositions", TradingServer.GetPositions),
		unary("GetPrice", TradingServer.GetPrice),
		unary("SetPrice", TradingServer.SetPrice),
		unary("Reset", TradingServer.Reset),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamOrders",
			Handler:       streamOrdersHandler,
			ServerStreams: true,
		},
	},
	Metadata: "simbroker/v1/trading.proto",
}

// ---------------------------------------------------------------------------
// Struct conversion
// ---------------------------------------------------------------------------

// toStruct converts v to a Struct through its JSON form. Decimals marshal as
// strings, so no precision is lost to Struct's float64 numbers.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes s into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	return nil
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// grpcError converts err to a status error carrying the shared taxonomy.
// Validation errors keep their field as a "field: reason" message prefix.
func grpcError(err error) error {
	body := classify(err)
	msg := body.Error
	if body.Field != "" {
		msg = body.Field + ": " + body.Error
	}
	return status.Error(grpcCode(body.Code), msg)
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// TradingService serves the Trading gRPC API from a simulator backend.
type TradingService struct {
	backend Backend
	metrics *Metrics
	log     *slog.Logger
}

var _ TradingServer = (*TradingService)(nil)

// NewTradingService creates a TradingService over backend.
func NewTradingService(backend Backend, metrics *Metrics, log *slog.Logger) *TradingService {
	return &TradingService{backend: backend, metrics: metrics, log: log}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *TradingService) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&TradingServiceDesc, s)
}

func reply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, grpcError(err)
	}
	return out, nil
}

func empty() *structpb.Struct { return &structpb.Struct{Fields: map[string]*structpb.Value{}} }

func (s *TradingService) SubmitOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req domain.OrderRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(grpcCode(CodeValidation), err.Error())
	}
	o, err := s.backend.SubmitOrder(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	s.metrics.orderSubmitted(o)
	return reply(o)
}

func (s *TradingService) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.backend.CancelOrder(ctx, stringField(in, "id")); err != nil {
		return nil, grpcError(err)
	}
	return empty(), nil
}

func (s *TradingService) GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	o, err := s.backend.GetOrder(ctx, stringField(in, "id"))
	if err != nil {
		return nil, grpcError(err)
	}
	return reply(o)
}

func (s *TradingService) ListOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	filter, err := parseStatusFilter(stringField(in, "status"))
	if err != nil {
		return nil, grpcError(err)
	}
	orders, err := s.backend.ListOrders(ctx, filter)
	if err != nil {
		return nil, grpcError(err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return reply(map[string]any{"orders": orders})
}

func (s *TradingService) GetAccount(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	acct, err := s.backend.GetAccount(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return reply(acct)
}

// GetPosition replies {"position": null} for a flat symbol.
func (s *TradingService) GetPosition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.backend.GetPosition(ctx, stringField(in, "symbol"))
	if err != nil {
		return nil, grpcError(err)
	}
	return reply(map[string]any{"position": p})
}

func (s *TradingService) GetPositions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	positions, err := s.backend.GetPositions(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	return reply(map[string]any{"positions": positions})
}

func (s *TradingService) GetPrice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sym := stringField(in, "symbol")
	p, err := s.backend.GetPrice(ctx, sym)
	if err != nil {
		return nil, grpcError(err)
	}
	return reply(PriceQuote{Symbol: sym, Price: p})
}

func (s *TradingService) SetPrice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var q PriceQuote
	if err := fromStruct(in, &q); err != nil {
		return nil, status.Error(grpcCode(CodeValidation), err.Error())
	}
	if err := s.backend.SetPrice(ctx, q.Symbol, q.Price); err != nil {
		return nil, grpcError(err)
	}
	return empty(), nil
}

func (s *TradingService) Reset(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var opts broker.ResetOptions
	if err := fromStruct(in, &opts); err != nil {
		return nil, status.Error(grpcCode(CodeValidation), err.Error())
	}
	if err := s.backend.Reset(ctx, opts); err != nil {
		return nil, grpcError(err)
	}
	return empty(), nil
}

// StreamOrders streams order events until the client disconnects. Events are
// dropped, not queued, when the client falls behind.
func (s *TradingService) StreamOrders(_ *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	subID, ch := s.backend.Subscribe(1024)
	defer s.backend.Unsubscribe(subID)

	s.log.Info("grpc client subscribed", "subID", subID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := toStruct(evt)
			if err != nil {
				return grpcError(err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
