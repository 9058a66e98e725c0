package simbroker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"simbroker/internal/api"
	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/engine"
	"simbroker/internal/quote"
	"simbroker/internal/validate"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newRemote(t *testing.T) *Client {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sim := broker.NewSimulatorBroker(quote.NewSource(quote.DefaultPrice), broker.DefaultInitialCash, log)
	ts := httptest.NewServer(api.NewServer(sim, log).Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL + "/")
}

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
	if c.Name() != "simulator-rest" {
		t.Errorf("Name() = %q", c.Name())
	}
}

// The reference scenario, driven entirely over HTTP.
func TestClientScenario(t *testing.T) {
	c := newRemote(t)
	ctx := context.Background()

	if err := c.SetPrice(ctx, "AAPL", d(100)); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	buy, err := c.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: d(10)})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if buy.Status != domain.OrderStatusFilled {
		t.Fatalf("buy status = %s", buy.Status)
	}

	acct, err := c.GetAccount(ctx)
	if err != nil || !acct.Cash.Equal(d(99000)) {
		t.Fatalf("account after buy = %+v, %v", acct, err)
	}

	if err := c.SetPrice(ctx, "AAPL", d(120)); err != nil {
		t.Fatal(err)
	}
	sell, err := c.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, Qty: d(10)})
	if err != nil || sell.Status != domain.OrderStatusFilled {
		t.Fatalf("sell = %+v, %v", sell, err)
	}

	acct, _ = c.GetAccount(ctx)
	if !acct.Cash.Equal(d(100200)) || !acct.PortfolioValue.Equal(d(100200)) {
		t.Errorf("account after sell = %+v", acct)
	}
	if p, err := c.GetPosition(ctx, "AAPL"); err != nil || p != nil {
		t.Errorf("position after full sell = %+v, %v", p, err)
	}
	if positions, err := c.GetPositions(ctx); err != nil || len(positions) != 0 {
		t.Errorf("positions = %+v, %v", positions, err)
	}

	closed, err := c.ListOrders(ctx, domain.StatusFilterClosed)
	if err != nil || len(closed) != 2 || closed[0].ID != buy.ID || closed[1].ID != sell.ID {
		t.Errorf("closed orders = %+v, %v", closed, err)
	}
	if p, err := c.GetPrice(ctx, "AAPL"); err != nil || !p.Equal(d(120)) {
		t.Errorf("GetPrice = %s, %v", p, err)
	}
}

func TestClientErrors(t *testing.T) {
	c := newRemote(t)
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit, Qty: d(1)})
	var verr *validate.ValidationError
	if !errors.As(err, &verr) || verr.Field != "limit_price" {
		t.Errorf("limit without price = %v, want limit_price ValidationError", err)
	}

	if _, err := c.GetOrder(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("GetOrder(missing) = %v", err)
	}
	if err := c.CancelOrder(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("CancelOrder(missing) = %v", err)
	}

	rej, err := c.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, Qty: d(1)})
	if err != nil || rej.Status != domain.OrderStatusRejected {
		t.Fatalf("uncovered sell = %+v, %v", rej, err)
	}
	if err := c.CancelOrder(ctx, rej.ID); !errors.Is(err, domain.ErrStatusConflict) {
		t.Errorf("CancelOrder(rejected) = %v, want ErrStatusConflict", err)
	}

	if err := c.SetPrice(ctx, "AAPL", d(0)); !errors.As(err, &verr) {
		t.Errorf("SetPrice(0) = %v, want ValidationError", err)
	}
}

func TestClientReset(t *testing.T) {
	c := newRemote(t)
	ctx := context.Background()
	_, _ = c.SubmitOrder(ctx, domain.OrderRequest{Symbol: "MSFT", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: d(5)})

	cash := d(2500)
	if err := c.Reset(ctx, broker.ResetOptions{InitialCash: &cash, Prices: map[string]decimal.Decimal{"MSFT": d(50)}}); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	acct, _ := c.GetAccount(ctx)
	if !acct.Cash.Equal(cash) {
		t.Errorf("cash = %s, want 2500", acct.Cash)
	}
	if orders, _ := c.ListOrders(ctx, ""); len(orders) != 0 {
		t.Errorf("orders after reset = %d", len(orders))
	}
	if p, _ := c.GetPrice(ctx, "MSFT"); !p.Equal(d(50)) {
		t.Errorf("MSFT = %s, want 50", p)
	}
}

// engine.Engine works unchanged over the remote client.
func TestClientBehindEngine(t *testing.T) {
	c := newRemote(t)
	ctx := context.Background()
	e := engine.NewEngine(c, engine.NewRiskManager(10), slog.New(slog.NewTextHandler(io.Discard, nil)))

	qty, err := e.SizeOrder(ctx, "AAPL", decimal.NewFromInt(10), d(100))
	if err != nil || !qty.Equal(d(100)) {
		t.Fatalf("SizeOrder = %s, %v", qty, err)
	}
	if _, err := e.SubmitOrder(ctx, engine.MarketOrder("AAPL", domain.OrderSideBuy, qty)); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if _, err := e.SubmitOrder(ctx, engine.MarketOrder("AAPL", domain.OrderSideBuy, d(1))); !errors.Is(err, engine.ErrRiskLimit) {
		t.Errorf("over-limit order = %v, want ErrRiskLimit", err)
	}
}

func TestDecodeErrorNonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).GetAccount(context.Background())
	if err == nil || errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("GetAccount error = %v", err)
	}
}
