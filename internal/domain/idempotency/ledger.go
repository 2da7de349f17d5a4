package idempotency

import (
	"context"
	"time"
)

type Outcome string

const (
	// OutcomeProceed means the key was unseen; the candidate order id has
	// been reserved and the caller owns the workflow run.
	OutcomeProceed Outcome = "proceed"
	// OutcomeReplay means the key was seen before with an identical
	// fingerprint; the caller must return the stored order as-is.
	OutcomeReplay Outcome = "replay"
	// OutcomeConflict means the key was seen before with a different
	// fingerprint; the caller must surface a client error with no side
	// effects.
	OutcomeConflict Outcome = "conflict"
)

type Decision struct {
	Outcome Outcome
	OrderID string
}

// Record is the durable write-once row behind a decision. Records are never
// updated and never deleted by this core.
type Record struct {
	Key         string
	OrderID     string
	Fingerprint string
	CreatedAt   time.Time
}

// Ledger decides what to do with an idempotency key. Implementations must
// reserve-if-absent with a single atomic primitive (unique constraint,
// SETNX, mutexed map); a read-then-write sequence would let two concurrent
// requests both observe "absent" and double-debit inventory.
type Ledger interface {
	Decide(ctx context.Context, key, fingerprint, candidateOrderID string) (Decision, error)
}
