package order

import (
	"errors"
	"fmt"
)

// ErrIdempotencyConflict is returned when a key is reused with a payload
// whose fingerprint differs from the recorded one. No inventory or payment
// side effects occur.
var ErrIdempotencyConflict = errors.New("order: idempotency key reused with a different payload")

// ValidationError covers malformed caller input. It is raised before any
// transaction or upstream call.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return "validation: " + e.Detail }

func newValidation(detail string) error { return &ValidationError{Detail: detail} }

// Shortfall names one item whose requested quantity exceeds availability.
type Shortfall struct {
	BookID    string
	Requested int
	Available int
}

// InsufficientStockError reports every shortfall found during the
// availability pre-check, not just the first.
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("order: insufficient stock for %d item(s)", len(e.Shortfalls))
}

// PaymentDeclinedError means all debits succeeded, payment was declined,
// and every debit has been compensated.
type PaymentDeclinedError struct {
	OrderID string
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("order %s: payment declined", e.OrderID)
}

// UpstreamError wraps an inventory failure that cancelled the order.
// errors.Is against inventory.ErrRejected / inventory.ErrUnavailable tells
// a definitive refusal apart from an exhausted retry budget.
type UpstreamError struct {
	OrderID string
	Cause   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("order %s: %v", e.OrderID, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }
