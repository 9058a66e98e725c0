// Package ledger tracks cash and long positions for a single simulated
// account.
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
)

// holding tracks cost as an exact running sum; avgEntry is cost/qty as of the
// last buy.
type holding struct {
	qty       decimal.Decimal
	cost      decimal.Decimal
	avgEntry  decimal.Decimal
	lastPrice decimal.Decimal
}

// Ledger owns the cash balance and open positions. It never lets cash go
// negative and never stores a position with non-positive quantity.
//
// A Ledger is not safe for concurrent use; the broker serializes access.
type Ledger struct {
	cash      decimal.Decimal
	positions map[string]*holding
}

// New creates a Ledger holding startingCash and no positions.
func New(startingCash decimal.Decimal) *Ledger {
	l := &Ledger{}
	l.Reset(startingCash)
	return l
}

// Reset replaces the cash balance and drops all positions.
func (l *Ledger) Reset(startingCash decimal.Decimal) {
	if startingCash.IsNegative() {
		startingCash = decimal.Zero
	}
	l.cash = startingCash
	l.positions = make(map[string]*holding)
}

// ApplyFill moves cash and shares for a fill of qty at price. It returns false,
// leaving the ledger untouched, when a buy costs more than the available cash
// or a sell exceeds the shares held.
func (l *Ledger) ApplyFill(symbol string, side domain.OrderSide, qty, price decimal.Decimal) bool {
	cost := qty.Mul(price)
	h := l.positions[symbol]

	switch side {
	case domain.OrderSideBuy:
		if cost.GreaterThan(l.cash) {
			return false
		}
		l.cash = l.cash.Sub(cost)
		if h == nil {
			l.positions[symbol] = &holding{qty: qty, cost: cost, avgEntry: price, lastPrice: price}
			return true
		}
		h.qty = h.qty.Add(qty)
		h.cost = h.cost.Add(cost)
		h.avgEntry = h.cost.Div(h.qty)
		h.lastPrice = price
		return true

	case domain.OrderSideSell:
		if h == nil || h.qty.LessThan(qty) {
			return false
		}
		l.cash = l.cash.Add(cost)
		h.qty = h.qty.Sub(qty)
		if !h.qty.IsPositive() {
			delete(l.positions, symbol)
			return true
		}
		// Sells never re-average.
		h.cost = h.qty.Mul(h.avgEntry)
		h.lastPrice = price
		return true
	}
	return false
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	return l.cash
}

// PortfolioValue is cash plus every position valued at its last fill price.
func (l *Ledger) PortfolioValue() decimal.Decimal {
	total := l.cash
	for _, h := range l.positions {
		total = total.Add(h.qty.Mul(h.lastPrice))
	}
	return total
}

// Position returns the open position for symbol, if any.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	h, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return summarize(symbol, h), true
}

// Positions returns all open positions sorted by symbol.
func (l *Ledger) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for sym, h := range l.positions {
		out = append(out, summarize(sym, h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func summarize(symbol string, h *holding) domain.Position {
	mv := h.qty.Mul(h.lastPrice)
	cb := h.cost
	return domain.Position{
		Symbol:        symbol,
		Qty:           h.qty,
		AvgEntryPrice: h.avgEntry,
		LastPrice:     h.lastPrice,
		MarketValue:   mv,
		CostBasis:     cb,
		UnrealizedPL:  mv.Sub(cb),
	}
}
