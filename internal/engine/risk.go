package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
)

// ErrRiskLimit is returned when an order would breach a risk limit.
var ErrRiskLimit = errors.New("risk limit exceeded")

// RiskManager enforces pre-trade position sizing limits.
type RiskManager struct {
	maxPositionPct decimal.Decimal
}

// NewRiskManager creates a RiskManager allowing at most maxPositionPct
// percent of equity (e.g. 10 for 10%) in a single symbol. Zero disables the
// check.
func NewRiskManager(maxPositionPct float64) *RiskManager {
	return &RiskManager{maxPositionPct: decimal.NewFromFloat(maxPositionPct)}
}

// Enabled reports whether any limit is configured.
func (rm *RiskManager) Enabled() bool {
	return rm.maxPositionPct.IsPositive()
}

// CheckOrder rejects buys whose resulting position value at price would
// exceed the configured share of equity. Sells only shrink exposure and
// always pass, as do orders with an unknown (zero) price.
func (rm *RiskManager) CheckOrder(req domain.OrderRequest, price decimal.Decimal, acct *domain.AccountInfo, pos *domain.Position) error {
	if !rm.Enabled() || req.Side != domain.OrderSideBuy || !price.IsPositive() {
		return nil
	}

	held := decimal.Zero
	if pos != nil {
		held = pos.Qty
	}
	exposure := held.Add(req.Qty).Mul(price)
	limit := acct.Equity.Mul(rm.maxPositionPct).Div(decimal.NewFromInt(100))
	if exposure.GreaterThan(limit) {
		return fmt.Errorf("%w: %s exposure %s exceeds %s%% of equity (%s)",
			ErrRiskLimit, req.Symbol, exposure.StringFixed(2), rm.maxPositionPct, limit.StringFixed(2))
	}
	return nil
}
