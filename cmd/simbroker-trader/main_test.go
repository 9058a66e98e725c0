package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"simbroker/internal/broker"
	"simbroker/internal/domain"
	"simbroker/internal/engine"
	"simbroker/internal/quote"
	"simbroker/internal/validate"
)

func TestTradeRejectsNonFinitePct(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := broker.NewSimulatorBroker(quote.NewSource(quote.DefaultPrice), decimal.Zero, log)
	e := engine.NewEngine(b, engine.NewRiskManager(0), log)
	ctx := context.Background()

	for _, pct := range []float64{math.NaN(), math.Inf(1)} {
		err := trade(ctx, e, b, "AAPL", domain.OrderSideBuy, pct, "", "", false)
		var verr *validate.ValidationError
		if !errors.As(err, &verr) || verr.Field != "pct" {
			t.Errorf("trade(pct=%v) error = %v, want ValidationError on pct", pct, err)
		}
	}

	orders, err := b.ListOrders(ctx, domain.StatusFilterAll)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("%d orders submitted, want 0", len(orders))
	}
}
