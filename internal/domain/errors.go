package domain

import "errors"

var (
	// ErrOrderNotFound is returned when an order ID is unknown.
	ErrOrderNotFound = errors.New("order not found")

	// ErrStatusConflict is returned when a transition is attempted from a
	// terminal order status.
	ErrStatusConflict = errors.New("order status conflict")
)
