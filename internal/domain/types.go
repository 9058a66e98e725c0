// Package domain defines the core types shared across simbroker: order
// requests, orders, positions, account snapshots, and order events.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType selects how an order is priced.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// NeedsLimitPrice reports whether the type requires a limit price.
func (t OrderType) NeedsLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// NeedsStopPrice reports whether the type requires a stop price.
func (t OrderType) NeedsStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	}
	return false
}

// StatusFilter selects orders by lifecycle group when listing.
type StatusFilter string

const (
	StatusFilterOpen   StatusFilter = "open"
	StatusFilterClosed StatusFilter = "closed"
	StatusFilterAll    StatusFilter = "all"
)

// Matches reports whether an order with status s passes the filter. An empty
// filter matches everything.
func (f StatusFilter) Matches(s OrderStatus) bool {
	switch f {
	case StatusFilterOpen:
		return !s.Terminal()
	case StatusFilterClosed:
		return s.Terminal()
	}
	return true
}

// OrderRequest is what a caller submits. Optional prices are nil when absent.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Side          OrderSide        `json:"side"`
	Type          OrderType        `json:"type"`
	Qty           decimal.Decimal  `json:"qty"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce   TimeInForce      `json:"time_in_force,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// Order is the normalized record of a submitted order.
type Order struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           OrderSide        `json:"side"`
	Type           OrderType        `json:"type"`
	TimeInForce    TimeInForce      `json:"time_in_force"`
	Qty            decimal.Decimal  `json:"qty"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price,omitempty"`
	Status         OrderStatus      `json:"status"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	FilledAt       *time.Time       `json:"filled_at,omitempty"`
	CanceledAt     *time.Time       `json:"canceled_at,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate engine-owned state.
func (o Order) Clone() Order {
	o.LimitPrice = cloneDecimal(o.LimitPrice)
	o.StopPrice = cloneDecimal(o.StopPrice)
	o.FilledAvgPrice = cloneDecimal(o.FilledAvgPrice)
	o.FilledAt = cloneTime(o.FilledAt)
	o.CanceledAt = cloneTime(o.CanceledAt)
	return o
}

// Position is an open long holding in one symbol.
type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	LastPrice     decimal.Decimal `json:"last_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
}

// AccountInfo is a snapshot of the account's financial metrics.
type AccountInfo struct {
	ID             string          `json:"id"`
	AccountNumber  string          `json:"account_number"`
	Currency       string          `json:"currency"`
	Cash           decimal.Decimal `json:"cash"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Equity         decimal.Decimal `json:"equity"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
}

// OrderEventType names what happened to an order.
type OrderEventType string

const (
	OrderEventNew      OrderEventType = "new"
	OrderEventFill     OrderEventType = "fill"
	OrderEventRejected OrderEventType = "rejected"
	OrderEventCanceled OrderEventType = "canceled"
	OrderEventReset    OrderEventType = "reset"
)

// OrderEvent is emitted after every order mutation. Reset events carry a zero
// Order.
type OrderEvent struct {
	Type  OrderEventType `json:"type"`
	Order Order          `json:"order"`
	At    time.Time      `json:"at"`
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
