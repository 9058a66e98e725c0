// Package store holds order records in memory and provides write-only
// journals that mirror order activity to SQLite or Parquet for inspection.
package store

import (
	"context"
	"fmt"

	"simbroker/internal/domain"
)

// Journal receives a snapshot of every order after it changes. Journals are
// an audit trail only; nothing is read back on startup.
type Journal interface {
	// Record persists the latest snapshot of an order.
	Record(ctx context.Context, order domain.Order) error

	// Reset marks that the simulator was reset.
	Reset(ctx context.Context) error

	// Close flushes pending data and releases resources.
	Close() error
}

// OrderStore keeps orders keyed by ID and iterates them in insertion order.
// Records are never removed except by Clear. It is not safe for concurrent
// use; the broker serializes access.
type OrderStore struct {
	byID  map[string]*domain.Order
	order []string
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{byID: make(map[string]*domain.Order)}
}

// Insert adds a new order. Inserting a duplicate ID is an error.
func (s *OrderStore) Insert(o domain.Order) error {
	if _, ok := s.byID[o.ID]; ok {
		return fmt.Errorf("inserting order %s: duplicate id", o.ID)
	}
	c := o.Clone()
	s.byID[o.ID] = &c
	s.order = append(s.order, o.ID)
	return nil
}

// Get returns a copy of the order with the given ID.
func (s *OrderStore) Get(id string) (domain.Order, error) {
	o, ok := s.byID[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return o.Clone(), nil
}

// Update replaces an existing order's record.
func (s *OrderStore) Update(o domain.Order) error {
	if _, ok := s.byID[o.ID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, o.ID)
	}
	c := o.Clone()
	s.byID[o.ID] = &c
	return nil
}

// List returns copies of the orders matching filter, oldest first.
func (s *OrderStore) List(filter domain.StatusFilter) []domain.Order {
	out := make([]domain.Order, 0, len(s.order))
	for _, id := range s.order {
		o := s.byID[id]
		if filter.Matches(o.Status) {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Len returns the number of stored orders.
func (s *OrderStore) Len() int {
	return len(s.order)
}

// Clear drops every order.
func (s *OrderStore) Clear() {
	s.byID = make(map[string]*domain.Order)
	s.order = nil
}

// Discard is a Journal that drops everything.
type Discard struct{}

var _ Journal = Discard{}

func (Discard) Record(context.Context, domain.Order) error { return nil }
func (Discard) Reset(context.Context) error                { return nil }
func (Discard) Close() error                               { return nil }
