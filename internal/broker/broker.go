// Package broker defines the Broker interface and provides implementations
// for executing orders and managing accounts: an in-memory simulator and an
// Alpaca-backed live client with the same shape.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
)

// Broker abstracts brokerage operations for order execution and account management.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// SubmitOrder sends an order to the brokerage for execution. A rejected
	// order is a successful call whose result has status "rejected".
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrder returns the current state of one order.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// ListOrders returns orders matching the filter, oldest first.
	ListOrders(ctx context.Context, filter domain.StatusFilter) ([]domain.Order, error)

	// GetPosition returns the open position for symbol, or nil when flat.
	GetPosition(ctx context.Context, symbol string) (*domain.Position, error)

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)
}

// ResetOptions configures Simulator.Reset. Zero values keep the defaults the
// simulator was built with; a nil Prices map leaves quotes untouched.
type ResetOptions struct {
	InitialCash *decimal.Decimal           `json:"initial_cash,omitempty"`
	Prices      map[string]decimal.Decimal `json:"prices,omitempty"`
}

// Simulator is a Broker whose quotes and state can be driven by a harness.
type Simulator interface {
	Broker

	// SetPrice moves the simulated quote for symbol.
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal) error

	// GetPrice returns the simulated quote for symbol.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Reset restores the starting balance and clears positions and orders.
	Reset(ctx context.Context, opts ResetOptions) error
}
