// Package validate performs structural checks on order requests before they
// reach a broker. Nothing here touches engine state.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
)

// MaxQty is the sanity bound against fat-finger quantities.
var MaxQty = decimal.NewFromInt(1_000_000_000)

var tickerPattern = regexp.MustCompile(`^[A-Za-z]{1,5}$`)

// ValidationError describes why a request was refused.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Order checks req and returns a *ValidationError for the first problem found.
func Order(req domain.OrderRequest) error {
	sym := strings.TrimSpace(req.Symbol)
	if sym == "" {
		return invalid("symbol", "required")
	}
	if !tickerPattern.MatchString(sym) {
		return invalid("symbol", "%q must be 1-5 letters", req.Symbol)
	}

	if !req.Qty.IsPositive() {
		return invalid("qty", "must be positive, got %s", req.Qty)
	}
	if req.Qty.GreaterThan(MaxQty) {
		return invalid("qty", "%s exceeds maximum %s", req.Qty, MaxQty)
	}

	switch req.Side {
	case domain.OrderSideBuy, domain.OrderSideSell:
	default:
		return invalid("side", "%q must be buy or sell", req.Side)
	}

	switch req.Type {
	case domain.OrderTypeMarket, domain.OrderTypeLimit, domain.OrderTypeStop, domain.OrderTypeStopLimit:
	default:
		return invalid("type", "%q must be market, limit, stop or stop_limit", req.Type)
	}

	if req.Type.NeedsLimitPrice() {
		if req.LimitPrice == nil {
			return invalid("limit_price", "required for %s orders", req.Type)
		}
		if !req.LimitPrice.IsPositive() {
			return invalid("limit_price", "must be positive, got %s", req.LimitPrice)
		}
	}
	if req.Type.NeedsStopPrice() {
		if req.StopPrice == nil {
			return invalid("stop_price", "required for %s orders", req.Type)
		}
		if !req.StopPrice.IsPositive() {
			return invalid("stop_price", "must be positive, got %s", req.StopPrice)
		}
	}

	switch req.TimeInForce {
	case "", domain.TimeInForceDay, domain.TimeInForceGTC, domain.TimeInForceIOC, domain.TimeInForceFOK:
	default:
		return invalid("time_in_force", "%q must be day, gtc, ioc or fok", req.TimeInForce)
	}

	return nil
}

// Float converts a float setting to a decimal, refusing NaN and infinities
// which decimal.NewFromFloat cannot represent.
func Float(field string, f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, invalid(field, "must be finite, got %v", f)
	}
	return decimal.NewFromFloat(f), nil
}
