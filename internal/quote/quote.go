// Package quote holds the simulated last-traded price for each symbol.
package quote

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"simbroker/internal/validate"
)

// DefaultPrice is returned for symbols that have never been priced.
var DefaultPrice = decimal.NewFromInt(100)

// Source is a mutable symbol → price table shared between the engine, which
// only reads it, and whatever harness moves prices between calls.
type Source struct {
	mu           sync.RWMutex
	prices       map[string]decimal.Decimal
	defaultPrice decimal.Decimal
}

// NewSource creates a Source that reports defaultPrice for unknown symbols. A
// non-positive defaultPrice falls back to DefaultPrice.
func NewSource(defaultPrice decimal.Decimal) *Source {
	if !defaultPrice.IsPositive() {
		defaultPrice = DefaultPrice
	}
	return &Source{
		prices:       make(map[string]decimal.Decimal),
		defaultPrice: defaultPrice,
	}
}

// Price returns the current price for symbol.
func (s *Source) Price(symbol string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prices[normalize(symbol)]; ok {
		return p
	}
	return s.defaultPrice
}

// SetPrice updates the price for symbol. Prices must be strictly positive;
// violations are reported as *validate.ValidationError.
func (s *Source) SetPrice(symbol string, price decimal.Decimal) error {
	sym := normalize(symbol)
	if sym == "" {
		return &validate.ValidationError{Field: "symbol", Reason: "required"}
	}
	if !price.IsPositive() {
		return &validate.ValidationError{Field: "price", Reason: fmt.Sprintf("%s price must be positive, got %s", sym, price)}
	}
	s.mu.Lock()
	s.prices[sym] = price
	s.mu.Unlock()
	return nil
}

// Replace drops every known price and loads prices instead.
func (s *Source) Replace(prices map[string]decimal.Decimal) error {
	next := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		if !p.IsPositive() {
			return &validate.ValidationError{Field: "prices", Reason: fmt.Sprintf("%s price must be positive, got %s", sym, p)}
		}
		next[normalize(sym)] = p
	}
	s.mu.Lock()
	s.prices = next
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of every explicitly set price.
func (s *Source) Snapshot() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
