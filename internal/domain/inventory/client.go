package inventory

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the upstream could not be reached within the
	// bounded retry budget. Callers may treat the outcome as unknown.
	ErrUnavailable = errors.New("inventory: upstream unavailable")
	// ErrRejected means the upstream definitively refused an adjustment,
	// e.g. the stock level would go negative. Never retried.
	ErrRejected = errors.New("inventory: adjustment rejected")
)

// Client wraps the remote inventory service. The remote side exposes no
// reservation primitive, only an availability lookup and an unconditional
// signed quantity adjustment; a negative delta debits, a positive delta
// credits.
type Client interface {
	GetAvailability(ctx context.Context, bookID string) (int, error)
	AdjustStock(ctx context.Context, bookID string, delta int, note string) error
}
