package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bookbarn/checkout/internal/domain/idempotency"
)

// IdempotencyLedger keeps write-once records in a mutex-guarded map. The
// reserve step happens under the same lock as the existence check, which is
// the in-memory equivalent of an insert-if-not-exists primitive.
type IdempotencyLedger struct {
	mu      sync.Mutex
	records map[string]idempotency.Record
}

func NewIdempotencyLedger() *IdempotencyLedger {
	return &IdempotencyLedger{
		records: make(map[string]idempotency.Record),
	}
}

func (l *IdempotencyLedger) Decide(ctx context.Context, key, fingerprint, candidateOrderID string) (idempotency.Decision, error) {
	_ = ctx
	if key == "" {
		return idempotency.Decision{}, fmt.Errorf("idempotency ledger: key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, exists := l.records[key]; exists {
		if rec.Fingerprint == fingerprint {
			return idempotency.Decision{Outcome: idempotency.OutcomeReplay, OrderID: rec.OrderID}, nil
		}
		return idempotency.Decision{Outcome: idempotency.OutcomeConflict}, nil
	}

	l.records[key] = idempotency.Record{
		Key:         key,
		OrderID:     candidateOrderID,
		Fingerprint: fingerprint,
		CreatedAt:   time.Now().UTC(),
	}
	return idempotency.Decision{Outcome: idempotency.OutcomeProceed, OrderID: candidateOrderID}, nil
}
