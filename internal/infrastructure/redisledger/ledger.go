package redisledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bookbarn/checkout/internal/domain/idempotency"
	"github.com/redis/go-redis/v9"
)

// Ledger stores idempotency records in Redis. SETNX is the atomic
// reserve-if-absent primitive; records carry no TTL because retention is
// owned outside this core.
type Ledger struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) *Ledger {
	if prefix == "" {
		prefix = "checkout"
	}
	return &Ledger{client: client, prefix: prefix}
}

type record struct {
	OrderID     string `json:"order_id"`
	Fingerprint string `json:"fingerprint"`
}

func (l *Ledger) Decide(ctx context.Context, key, fingerprint, candidateOrderID string) (idempotency.Decision, error) {
	if key == "" {
		return idempotency.Decision{}, fmt.Errorf("idempotency ledger: key is required")
	}

	payload, err := json.Marshal(record{OrderID: candidateOrderID, Fingerprint: fingerprint})
	if err != nil {
		return idempotency.Decision{}, fmt.Errorf("idempotency ledger: marshal record: %w", err)
	}

	reserved, err := l.client.SetNX(ctx, l.key(key), payload, 0).Result()
	if err != nil {
		return idempotency.Decision{}, fmt.Errorf("idempotency ledger: reserve: %w", err)
	}
	if reserved {
		return idempotency.Decision{Outcome: idempotency.OutcomeProceed, OrderID: candidateOrderID}, nil
	}

	raw, err := l.client.Get(ctx, l.key(key)).Result()
	if err != nil {
		return idempotency.Decision{}, fmt.Errorf("idempotency ledger: lookup: %w", err)
	}

	var existing record
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		return idempotency.Decision{}, fmt.Errorf("idempotency ledger: decode record: %w", err)
	}

	if existing.Fingerprint == fingerprint {
		return idempotency.Decision{Outcome: idempotency.OutcomeReplay, OrderID: existing.OrderID}, nil
	}
	return idempotency.Decision{Outcome: idempotency.OutcomeConflict}, nil
}

func (l *Ledger) key(key string) string {
	return fmt.Sprintf("%s:idempotency:%s", l.prefix, key)
}

var _ idempotency.Ledger = (*Ledger)(nil)
