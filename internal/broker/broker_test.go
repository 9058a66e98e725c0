package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
	"simbroker/internal/quote"
	"simbroker/internal/validate"
)

func TestAlpacaBrokerName(t *testing.T) {
	b := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets", 0)
	if got := b.Name(); got != "alpaca" {
		t.Errorf("AlpacaBroker.Name() = %q, want %q", got, "alpaca")
	}
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(quote.NewSource(quote.DefaultPrice), decimal.Zero, nil)
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestFromAlpacaStatus(t *testing.T) {
	tests := map[string]domain.OrderStatus{
		"new":              domain.OrderStatusNew,
		"accepted":         domain.OrderStatusNew,
		"partially_filled": domain.OrderStatusNew,
		"filled":           domain.OrderStatusFilled,
		"canceled":         domain.OrderStatusCancelled,
		"expired":          domain.OrderStatusCancelled,
		"rejected":         domain.OrderStatusRejected,
	}
	for in, want := range tests {
		if got := fromAlpacaStatus(in); got != want {
			t.Errorf("fromAlpacaStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFromAlpacaOrder(t *testing.T) {
	qty := decimal.NewFromInt(3)
	avg := decimal.RequireFromString("187.5")
	filledAt := time.Date(2024, 6, 14, 15, 0, 0, 0, time.UTC)
	ao := &alpaca.Order{
		ID:             "o-1",
		ClientOrderID:  "c-1",
		Symbol:         "AAPL",
		Side:           alpaca.Buy,
		Type:           alpaca.Market,
		TimeInForce:    alpaca.Day,
		Qty:            &qty,
		FilledQty:      qty,
		FilledAvgPrice: &avg,
		FilledAt:       &filledAt,
		Status:         "filled",
	}
	o := fromAlpacaOrder(ao)
	if o.Status != domain.OrderStatusFilled || o.Side != domain.OrderSideBuy || o.Type != domain.OrderTypeMarket {
		t.Errorf("order = %+v", o)
	}
	if !o.Qty.Equal(qty) || !o.FilledAvgPrice.Equal(avg) {
		t.Errorf("qty/avg = %s/%s", o.Qty, o.FilledAvgPrice)
	}
	// The conversion must not alias the SDK's pointers.
	*ao.FilledAvgPrice = decimal.Zero
	if !o.FilledAvgPrice.Equal(decimal.RequireFromString("187.5")) {
		t.Error("converted order aliases the SDK order")
	}
}

func TestToAlpacaType(t *testing.T) {
	tests := map[domain.OrderType]alpaca.OrderType{
		domain.OrderTypeMarket:    alpaca.Market,
		domain.OrderTypeLimit:     alpaca.Limit,
		domain.OrderTypeStop:      alpaca.Stop,
		domain.OrderTypeStopLimit: alpaca.StopLimit,
	}
	for in, want := range tests {
		if got := toAlpacaType(in); got != want {
			t.Errorf("toAlpacaType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAlpacaBrokerAgainstTestServer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/account", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"acct-1","account_number":"PA123","currency":"USD","cash":"1000","equity":"1500","buying_power":"2000"}`))
	})
	mux.HandleFunc("/v2/orders/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":40410000,"message":"order not found"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewAlpacaBroker("key", "secret", srv.URL, 0)
	ctx := context.Background()

	acct, err := b.GetAccount(ctx)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.ID != "acct-1" || !acct.Cash.Equal(decimal.NewFromInt(1000)) || !acct.PortfolioValue.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("account = %+v", acct)
	}

	if err := b.CancelOrder(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("CancelOrder(missing) error = %v, want ErrOrderNotFound", err)
	}

	// Invalid requests never reach the network.
	_, err = b.SubmitOrder(ctx, domain.OrderRequest{Symbol: "", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: decimal.NewFromInt(1)})
	var verr *validate.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("SubmitOrder(invalid) error = %v, want *validate.ValidationError", err)
	}
}
