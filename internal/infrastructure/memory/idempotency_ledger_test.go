package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/bookbarn/checkout/internal/domain/idempotency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerDecide(t *testing.T) {
	ctx := context.Background()
	ledger := NewIdempotencyLedger()

	first, err := ledger.Decide(ctx, "key-1", "fp-a", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.OutcomeProceed, first.Outcome)
	assert.Equal(t, "ord-1", first.OrderID)

	replay, err := ledger.Decide(ctx, "key-1", "fp-a", "ord-2")
	require.NoError(t, err)
	assert.Equal(t, idempotency.OutcomeReplay, replay.Outcome)
	assert.Equal(t, "ord-1", replay.OrderID, "replay must point at the original order")

	conflict, err := ledger.Decide(ctx, "key-1", "fp-b", "ord-3")
	require.NoError(t, err)
	assert.Equal(t, idempotency.OutcomeConflict, conflict.Outcome)
}

func TestLedgerRejectsEmptyKey(t *testing.T) {
	ledger := NewIdempotencyLedger()
	_, err := ledger.Decide(context.Background(), "", "fp", "ord-1")
	assert.Error(t, err)
}

func TestLedgerConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	ledger := NewIdempotencyLedger()

	const workers = 32
	decisions := make([]idempotency.Decision, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			decisions[i], errs[i] = ledger.Decide(ctx, "shared-key", "fp-a", "ord-candidate")
		}()
	}
	wg.Wait()

	proceeds := 0
	for i, d := range decisions {
		require.NoError(t, errs[i])
		switch d.Outcome {
		case idempotency.OutcomeProceed:
			proceeds++
		case idempotency.OutcomeReplay:
		default:
			t.Fatalf("unexpected outcome %q", d.Outcome)
		}
	}
	assert.Equal(t, 1, proceeds, "exactly one caller may win the key")
}
