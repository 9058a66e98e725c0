package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"simbroker/internal/domain"
	"simbroker/internal/ledger"
	"simbroker/internal/quote"
	"simbroker/internal/store"
	"simbroker/internal/validate"
)

// Compile-time interface check.
var _ Simulator = (*SimulatorBroker)(nil)

// DefaultInitialCash is the starting balance when none is configured.
var DefaultInitialCash = decimal.NewFromInt(100_000)

// SimulatorBroker implements the Broker interface for paper trading. Orders
// fill immediately against the quote source or rest as "new"; cash and
// positions live in memory only.
//
// Every operation holds one mutex around the ledger and order store, so
// callers observe strict call order. The quote source is read, never written,
// by order handling.
type SimulatorBroker struct {
	quotes *quote.Source
	log    *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	initialCash decimal.Decimal
	ledger      *ledger.Ledger
	orders      *store.OrderStore
	accountID   string

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan domain.OrderEvent
}

// NewSimulatorBroker creates a SimulatorBroker funded with initialCash that
// prices orders from quotes. A non-positive initialCash uses
// DefaultInitialCash.
func NewSimulatorBroker(quotes *quote.Source, initialCash decimal.Decimal, log *slog.Logger) *SimulatorBroker {
	if !initialCash.IsPositive() {
		initialCash = DefaultInitialCash
	}
	if log == nil {
		log = slog.Default()
	}
	return &SimulatorBroker{
		quotes:      quotes,
		log:         log.With("broker", "simulator"),
		now:         time.Now,
		initialCash: initialCash,
		ledger:      ledger.New(initialCash),
		orders:      store.NewOrderStore(),
		accountID:   uuid.NewString(),
		subs:        make(map[int]chan domain.OrderEvent),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SubmitOrder validates req, decides whether it fills against the current
// quote, applies the fill to the ledger and records the order. Invalid
// requests return a *validate.ValidationError and leave no trace. Fills the
// ledger cannot fund come back with status "rejected" and a nil error.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := validate.Order(req); err != nil {
		return nil, err
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = domain.TimeInForceDay
	}
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	order := domain.Order{
		ID:            uuid.NewString(),
		ClientOrderID: clientID,
		Symbol:        strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   tif,
		Qty:           req.Qty,
		FilledQty:     decimal.Zero,
		Status:        domain.OrderStatusNew,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	if req.Type.NeedsLimitPrice() {
		lp := *req.LimitPrice
		order.LimitPrice = &lp
	}
	if req.Type.NeedsStopPrice() {
		sp := *req.StopPrice
		order.StopPrice = &sp
	}

	event := domain.OrderEventNew
	if price, ok := b.fillPrice(&order); ok {
		if b.ledger.ApplyFill(order.Symbol, order.Side, order.Qty, price) {
			order.Status = domain.OrderStatusFilled
			order.FilledQty = order.Qty
			order.FilledAvgPrice = &price
			order.FilledAt = &now
			event = domain.OrderEventFill
		} else {
			order.Status = domain.OrderStatusRejected
			event = domain.OrderEventRejected
		}
	}

	if err := b.orders.Insert(order); err != nil {
		return nil, err
	}
	b.broadcast(domain.OrderEvent{Type: event, Order: order.Clone(), At: now})

	attrs := []any{
		"order_id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"type", order.Type,
		"qty", order.Qty.String(),
		"status", order.Status,
	}
	if order.Status == domain.OrderStatusRejected {
		b.log.Warn("order rejected", attrs...)
	} else {
		b.log.Info("order submitted", attrs...)
	}

	out := order.Clone()
	return &out, nil
}

// fillPrice returns the price an order fills at right now, or false when the
// order must rest.
func (b *SimulatorBroker) fillPrice(o *domain.Order) (decimal.Decimal, bool) {
	switch o.Type {
	case domain.OrderTypeMarket:
		return b.quotes.Price(o.Symbol), true

	case domain.OrderTypeLimit:
		last := b.quotes.Price(o.Symbol)
		limit := *o.LimitPrice
		switch o.Side {
		case domain.OrderSideBuy:
			if last.LessThanOrEqual(limit) {
				return limit, true
			}
		case domain.OrderSideSell:
			if last.GreaterThanOrEqual(limit) {
				return limit, true
			}
		}
		return decimal.Zero, false

	case domain.OrderTypeStop, domain.OrderTypeStopLimit:
		// Stop prices are never monitored; these orders always rest.
		return decimal.Zero, false
	}
	panic(fmt.Sprintf("broker: unhandled order type %q", o.Type))
}

// CancelOrder marks a resting order as cancelled. Nothing was reserved for
// it, so the ledger is untouched.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, err := b.orders.Get(orderID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		return fmt.Errorf("%w: order %s is already %s", domain.ErrStatusConflict, orderID, order.Status)
	}

	now := b.now()
	order.Status = domain.OrderStatusCancelled
	order.CanceledAt = &now
	order.UpdatedAt = now
	if err := b.orders.Update(order); err != nil {
		return err
	}
	b.broadcast(domain.OrderEvent{Type: domain.OrderEventCanceled, Order: order.Clone(), At: now})
	b.log.Info("order cancelled", "order_id", orderID, "symbol", order.Symbol)
	return nil
}

// GetOrder returns a snapshot of the order.
func (b *SimulatorBroker) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, err := b.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders returns orders in submission order. "open" selects resting
// orders, "closed" terminal ones; anything else returns all.
func (b *SimulatorBroker) ListOrders(_ context.Context, filter domain.StatusFilter) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders.List(filter), nil
}

// GetPosition returns the position for symbol or nil when there is none.
func (b *SimulatorBroker) GetPosition(_ context.Context, symbol string) (*domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.ledger.Position(strings.ToUpper(strings.TrimSpace(symbol)))
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// GetPositions returns all simulated positions sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.Positions(), nil
}

// GetAccount returns cash, portfolio value and buying power. Without margin,
// buying power equals cash.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cash := b.ledger.Cash()
	value := b.ledger.PortfolioValue()
	return &domain.AccountInfo{
		ID:             b.accountID,
		AccountNumber:  "SIM" + strings.ToUpper(b.accountID[:8]),
		Currency:       "USD",
		Cash:           cash,
		PortfolioValue: value,
		Equity:         value,
		BuyingPower:    cash,
	}, nil
}

// SetPrice moves the simulated quote for symbol. Resting orders are not
// re-evaluated.
func (b *SimulatorBroker) SetPrice(_ context.Context, symbol string, price decimal.Decimal) error {
	return b.quotes.SetPrice(symbol, price)
}

// GetPrice returns the simulated quote for symbol.
func (b *SimulatorBroker) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	return b.quotes.Price(symbol), nil
}

// Reset restores the starting balance, clears positions and orders and, when
// opts.Prices is set, replaces the quote table.
func (b *SimulatorBroker) Reset(_ context.Context, opts ResetOptions) error {
	cash := b.initialCash
	if opts.InitialCash != nil {
		if opts.InitialCash.IsNegative() {
			return fmt.Errorf("resetting simulator: %w", &validate.ValidationError{
				Field:  "initial_cash",
				Reason: fmt.Sprintf("must not be negative, got %s", opts.InitialCash),
			})
		}
		cash = *opts.InitialCash
	}
	if opts.Prices != nil {
		if err := b.quotes.Replace(opts.Prices); err != nil {
			return fmt.Errorf("resetting simulator: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.ledger.Reset(cash)
	b.orders.Clear()
	b.broadcast(domain.OrderEvent{Type: domain.OrderEventReset, At: b.now()})
	b.log.Info("simulator reset", "cash", cash.String(), "prices", len(opts.Prices))
	return nil
}

// Subscribe returns a channel that receives order events. bufSize controls
// the channel buffer; slow consumers will have events dropped.
func (b *SimulatorBroker) Subscribe(bufSize int) (int, <-chan domain.OrderEvent) {
	ch := make(chan domain.OrderEvent, bufSize)
	b.subsMu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = ch
	b.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *SimulatorBroker) Unsubscribe(id int) {
	b.subsMu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.subsMu.Unlock()
}

// broadcast sends an event to all subscribers non-blocking (drop on full).
func (b *SimulatorBroker) broadcast(e domain.OrderEvent) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.log.Warn("dropping order event for slow subscriber", "sub_id", id, "type", e.Type)
		}
	}
}
