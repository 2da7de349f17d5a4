package order

import (
	"context"
	"fmt"

	"github.com/bookbarn/checkout/internal/domain/inventory"
	"github.com/bookbarn/checkout/internal/observability"
	"github.com/bookbarn/checkout/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
)

type appliedDebit struct {
	bookID string
	qty    int
}

// CompensationFailure records a reversing credit that did not land after
// the bounded retry budget. It is the one failure mode that is surfaced to
// operators instead of retried forever.
type CompensationFailure struct {
	BookID   string
	Quantity int
	Err      error
}

// Compensator tracks the debits applied for one order attempt and issues
// the exact reversing credits when a later step fails. State lives only for
// the workflow invocation; the durable trail is the adjustment notes on the
// inventory side.
type Compensator struct {
	inv      inventory.Client
	orderID  string
	applied  []appliedDebit
	log      observability.Logger
	failures observability.Counter
	tracer   observability.TraceCtx
}

func NewCompensator(inv inventory.Client, orderID string, tel observability.Telemetry) *Compensator {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Compensator{
		inv:      inv,
		orderID:  orderID,
		log:      tel.Logger().With(observability.F("component", "compensator"), observability.F("order_id", orderID)),
		failures: tel.Counter(observability.MCompensationFailed),
		tracer:   tel.Tracer(),
	}
}

// RecordApplied appends a successfully applied debit.
func (c *Compensator) RecordApplied(bookID string, qty int) {
	c.applied = append(c.applied, appliedDebit{bookID: bookID, qty: qty})
}

// Applied returns how many debits have been recorded.
func (c *Compensator) Applied() int { return len(c.applied) }

// CompensateAll walks the applied debits in reverse order and credits each
// one back. Entries are independent: a failed credit is logged and counted
// but never stops the remaining entries. Each credit runs under the same
// bounded retry policy as any adjustment.
func (c *Compensator) CompensateAll(ctx context.Context) []CompensationFailure {
	if len(c.applied) == 0 {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "compensation.ReleaseStock",
		attribute.String("order.id", c.orderID),
		attribute.Int("compensation.entries", len(c.applied)),
	)
	defer span.End()

	logger := logctx.FromOr(ctx, c.log)
	note := "compensate:" + c.orderID

	var failed []CompensationFailure
	for i := len(c.applied) - 1; i >= 0; i-- {
		entry := c.applied[i]
		err := c.inv.AdjustStock(ctx, entry.bookID, +entry.qty, note)
		if err == nil {
			continue
		}

		span.RecordError(err)
		logger.Error("compensation_failed",
			observability.F("book_id", entry.bookID),
			observability.F("quantity", entry.qty),
			observability.F("error", err.Error()),
		)
		if c.failures != nil {
			c.failures.Add(1)
		}
		failed = append(failed, CompensationFailure{
			BookID:   entry.bookID,
			Quantity: entry.qty,
			Err:      fmt.Errorf("compensate %s: %w", entry.bookID, err),
		})
	}

	c.applied = c.applied[:0]
	return failed
}
