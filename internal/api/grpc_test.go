package api

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/quote"
	"simbroker/internal/validate"
)

func newGRPCPair(t *testing.T) (*GRPCClient, *broker.SimulatorBroker) {
	t.Helper()
	sim := broker.NewSimulatorBroker(quote.NewSource(quote.DefaultPrice), broker.DefaultInitialCash, quietLogger())
	s := NewServer(sim, quietLogger())

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	s.RegisterGRPC(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewGRPCClient(conn), sim
}

func TestGRPCRoundTrip(t *testing.T) {
	c, _ := newGRPCPair(t)
	ctx := context.Background()

	if err := c.SetPrice(ctx, "AAPL", decimal.NewFromInt(150)); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	if p, err := c.GetPrice(ctx, "aapl"); err != nil || !p.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("GetPrice = %s, %v", p, err)
	}

	o, err := c.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if o.Status != domain.OrderStatusFilled || !o.FilledAvgPrice.Equal(decimal.NewFromInt(150)) {
		t.Errorf("order = %+v", o)
	}

	got, err := c.GetOrder(ctx, o.ID)
	if err != nil || got.ID != o.ID || !got.SubmittedAt.Equal(o.SubmittedAt) {
		t.Errorf("GetOrder = %+v, %v", got, err)
	}

	acct, err := c.GetAccount(ctx)
	if err != nil || !acct.Cash.Equal(decimal.NewFromInt(98500)) {
		t.Errorf("GetAccount = %+v, %v", acct, err)
	}

	pos, err := c.GetPosition(ctx, "AAPL")
	if err != nil || pos == nil || !pos.AvgEntryPrice.Equal(decimal.NewFromInt(150)) {
		t.Errorf("GetPosition = %+v, %v", pos, err)
	}
	if flat, err := c.GetPosition(ctx, "MSFT"); err != nil || flat != nil {
		t.Errorf("GetPosition(MSFT) = %+v, %v, want nil", flat, err)
	}
	if positions, err := c.GetPositions(ctx); err != nil || len(positions) != 1 {
		t.Errorf("GetPositions = %+v, %v", positions, err)
	}

	orders, err := c.ListOrders(ctx, domain.StatusFilterClosed)
	if err != nil || len(orders) != 1 {
		t.Errorf("ListOrders(closed) = %d, %v", len(orders), err)
	}

	cash := decimal.NewFromInt(1000)
	if err := c.Reset(ctx, broker.ResetOptions{InitialCash: &cash}); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if orders, _ := c.ListOrders(ctx, domain.StatusFilterAll); len(orders) != 0 {
		t.Errorf("orders after reset = %d", len(orders))
	}
}

func TestGRPCErrorMapping(t *testing.T) {
	c, _ := newGRPCPair(t)
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: "hold", Type: domain.OrderTypeMarket, Qty: decimal.NewFromInt(1)})
	var verr *validate.ValidationError
	if !errors.As(err, &verr) || verr.Field != "side" {
		t.Errorf("SubmitOrder(bad side) = %v, want side ValidationError", err)
	}

	if _, err := c.GetOrder(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("GetOrder(missing) = %v, want ErrOrderNotFound", err)
	}

	o, err := c.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CancelOrder(ctx, o.ID); !errors.Is(err, domain.ErrStatusConflict) {
		t.Errorf("CancelOrder(filled) = %v, want ErrStatusConflict", err)
	}

	if _, err := c.ListOrders(ctx, "pending"); !errors.As(err, &verr) {
		t.Errorf("ListOrders(pending) = %v, want ValidationError", err)
	}
}

func TestGRPCStreamOrders(t *testing.T) {
	c, sim := newGRPCPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, err := c.StreamOrders(ctx)
	if err != nil {
		t.Fatalf("StreamOrders: %v", err)
	}

	// The server subscribes asynchronously; keep submitting until an event
	// arrives.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatal("stream closed before any event")
			}
			if evt.Type != domain.OrderEventFill || evt.Order.Symbol != "AAPL" {
				t.Errorf("event = %+v", evt)
			}
			return
		case <-tick.C:
			if _, err := sim.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: decimal.NewFromInt(1)}); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}
