package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookbarn/checkout/internal/domain/idempotency"
	"gorm.io/gorm"
)

// IdempotencyLedger backs decisions with the idempotency_records table. The
// insert races on the primary key; losing the race means another request
// already owns the key and the stored row decides replay vs conflict.
type IdempotencyLedger struct {
	db *gorm.DB
}

func NewIdempotencyLedger(db *gorm.DB) *IdempotencyLedger {
	return &IdempotencyLedger{db: db}
}

func (l *IdempotencyLedger) Decide(ctx context.Context, key, fingerprint, candidateOrderID string) (idempotency.Decision, error) {
	if key == "" {
		return idempotency.Decision{}, fmt.Errorf("idempotency ledger: key is required")
	}

	row := idempotencyRow{
		Key:         key,
		OrderID:     candidateOrderID,
		Fingerprint: fingerprint,
		CreatedAt:   time.Now().UTC(),
	}
	err := l.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return idempotency.Decision{Outcome: idempotency.OutcomeProceed, OrderID: candidateOrderID}, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return idempotency.Decision{}, fmt.Errorf("idempotency ledger: reserve: %w", err)
	}

	var existing idempotencyRow
	if err := l.db.WithContext(ctx).First(&existing, "idempotency_key = ?", key).Error; err != nil {
		return idempotency.Decision{}, fmt.Errorf("idempotency ledger: lookup: %w", err)
	}

	if existing.Fingerprint == fingerprint {
		return idempotency.Decision{Outcome: idempotency.OutcomeReplay, OrderID: existing.OrderID}, nil
	}
	return idempotency.Decision{Outcome: idempotency.OutcomeConflict}, nil
}

var _ idempotency.Ledger = (*IdempotencyLedger)(nil)
