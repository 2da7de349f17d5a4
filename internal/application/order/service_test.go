package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bookbarn/checkout/internal/domain/inventory"
	domain "github.com/bookbarn/checkout/internal/domain/order"
	domoutbox "github.com/bookbarn/checkout/internal/domain/outbox"
	"github.com/bookbarn/checkout/internal/domain/payment"
	"github.com/bookbarn/checkout/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type adjustCall struct {
	BookID string
	Delta  int
	Note   string
}

type fakeInventory struct {
	mu        sync.Mutex
	stock     map[string]int
	availErr  error
	adjustErr map[string]error
	calls     []adjustCall
}

func newFakeInventory(stock map[string]int) *fakeInventory {
	return &fakeInventory{stock: stock, adjustErr: make(map[string]error)}
}

func (f *fakeInventory) GetAvailability(_ context.Context, bookID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.availErr != nil {
		return 0, f.availErr
	}
	return f.stock[bookID], nil
}

func (f *fakeInventory) AdjustStock(_ context.Context, bookID string, delta int, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.adjustErr[bookID]; err != nil {
		return err
	}
	f.calls = append(f.calls, adjustCall{BookID: bookID, Delta: delta, Note: note})
	return nil
}

func (f *fakeInventory) adjustCalls() []adjustCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adjustCall(nil), f.calls...)
}

type fakePayments struct {
	outcome payment.Outcome
	err     error
	calls   int
}

func (f *fakePayments) Authorize(context.Context, string, decimal.Decimal) (payment.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return fmt.Sprintf("ord-%d", s.n)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *capturePublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.events))
	for _, e := range p.events {
		names = append(names, e.EventName())
	}
	return names
}

type fixture struct {
	svc    *Service
	repo   *memory.OrderRepository
	inv    *fakeInventory
	pay    *fakePayments
	events *capturePublisher
}

func newFixture(stock map[string]int) *fixture {
	repo := memory.NewOrderRepository()
	inv := newFakeInventory(stock)
	pay := &fakePayments{outcome: payment.OutcomeApproved}
	events := &capturePublisher{}
	svc := NewService(repo, memory.NewIdempotencyLedger(), inv, pay, &seqIDs{}, events, "USD", nil)
	return &fixture{svc: svc, repo: repo, inv: inv, pay: pay, events: events}
}

func twoBookInput(key string) CreateOrderInput {
	return CreateOrderInput{
		IdempotencyKey: key,
		UserID:         "user-1",
		Items: []ItemInput{
			{BookID: "book-1", Quantity: 2, UnitPrice: price("5.00")},
			{BookID: "book-2", Quantity: 1, UnitPrice: price("6.99")},
		},
	}
}

func TestCreateOrderHappyPath(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{"book-1": 10, "book-2": 3})

	result, err := fx.svc.CreateOrder(ctx, twoBookInput("key-1"))
	require.NoError(t, err)
	require.False(t, result.Replayed)

	o := result.Order
	assert.Equal(t, domain.StatusConfirmed, o.Status)
	assert.True(t, o.Total.Equal(price("16.99")))
	assert.Equal(t, "USD", o.Currency)

	calls := fx.inv.adjustCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, adjustCall{BookID: "book-1", Delta: -2, Note: "order:" + o.ID}, calls[0])
	assert.Equal(t, adjustCall{BookID: "book-2", Delta: -1, Note: "order:" + o.ID}, calls[1])

	assert.Equal(t, 1, fx.pay.calls)
	assert.Equal(t, []string{"order.created", "order.confirmed"}, fx.events.names())

	stored, err := fx.repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, stored.Status)
}

func TestCreateOrderReplaySkipsSideEffects(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{"book-1": 10, "book-2": 3})

	first, err := fx.svc.CreateOrder(ctx, twoBookInput("key-1"))
	require.NoError(t, err)
	callsAfterFirst := len(fx.inv.adjustCalls())
	paymentsAfterFirst := fx.pay.calls

	second, err := fx.svc.CreateOrder(ctx, twoBookInput("key-1"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, domain.StatusConfirmed, second.Order.Status)

	assert.Equal(t, callsAfterFirst, len(fx.inv.adjustCalls()), "replay must not touch inventory")
	assert.Equal(t, paymentsAfterFirst, fx.pay.calls, "replay must not charge again")
}

func TestCreateOrderReplayReturnsTerminalFailure(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{"book-1": 10, "book-2": 3})
	fx.pay.outcome = payment.OutcomeDeclined

	_, err := fx.svc.CreateOrder(ctx, twoBookInput("key-1"))
	var declined *PaymentDeclinedError
	require.ErrorAs(t, err, &declined)

	// Same key replays the recorded failed order instead of retrying.
	second, err := fx.svc.CreateOrder(ctx, twoBookInput("key-1"))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, domain.StatusPaymentFailed, second.Order.Status)
}

func TestCreateOrderResumesReservationAfterAbortedAttempt(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{"book-1": 0, "book-2": 3})

	// First attempt reserves the key but aborts on a shortfall before any
	// order row lands.
	_, err := fx.svc.CreateOrder(ctx, twoBookInput("key-1"))
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)

	// Stock comes back; the identical request must complete, not replay a
	// phantom order.
	fx.inv.mu.Lock()
	fx.inv.stock["book-1"] = 10
	fx.inv.mu.Unlock()

	result, err := fx.svc.CreateOrder(ctx, twoBookInput("key-1"))
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, domain.StatusConfirmed, result.Order.Status)

	// A third identical call is now a plain replay of the landed order.
	third, err := fx.svc.CreateOrder(ctx, twoBookInput("key-1"))
	require.NoError(t, err)
	assert.True(t, third.Replayed)
	assert.Equal(t, result.Order.ID, third.Order.ID)
}

func TestCreateOrderIdempotencyConflict(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{"book-1": 10, "book-2": 3})

	_, err := fx.svc.CreateOrder(ctx, twoBookInput("key-1"))
	require.NoError(t, err)
	callsBefore := len(fx.inv.adjustCalls())

	changed := twoBookInput("key-1")
	changed.Items[0].Quantity = 5
	_, err = fx.svc.CreateOrder(ctx, changed)
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.Equal(t, callsBefore, len(fx.inv.adjustCalls()), "conflict must have no side effects")
}

func TestCreateOrderValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateOrderInput)
	}{
		{"missing user", func(in *CreateOrderInput) { in.UserID = "" }},
		{"no items", func(in *CreateOrderInput) { in.Items = nil }},
		{"missing book id", func(in *CreateOrderInput) { in.Items[0].BookID = "" }},
		{"zero quantity", func(in *CreateOrderInput) { in.Items[0].Quantity = 0 }},
		{"negative price", func(in *CreateOrderInput) { in.Items[0].UnitPrice = price("-1") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(map[string]int{"book-1": 10, "book-2": 3})
			in := twoBookInput("")
			tt.mutate(&in)

			_, err := fx.svc.CreateOrder(ctx, in)
			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
			assert.Empty(t, fx.inv.adjustCalls())
		})
	}
}

func TestCreateOrderReportsEveryShortfall(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{"book-1": 1, "book-2": 0})

	_, err := fx.svc.CreateOrder(ctx, twoBookInput(""))

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Shortfalls, 2)
	assert.Contains(t, stockErr.Shortfalls, Shortfall{BookID: "book-1", Requested: 2, Available: 1})
	assert.Contains(t, stockErr.Shortfalls, Shortfall{BookID: "book-2", Requested: 1, Available: 0})
	assert.Empty(t, fx.inv.adjustCalls(), "no debit may happen on a shortfall")
	assert.Equal(t, 0, fx.pay.calls)
}

func TestCreateOrderAvailabilityOutage(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{})
	fx.inv.availErr = fmt.Errorf("%w: 3 attempts", inventory.ErrUnavailable)

	_, err := fx.svc.CreateOrder(ctx, twoBookInput(""))

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.ErrorIs(t, err, inventory.ErrUnavailable)
	assert.Empty(t, fx.inv.adjustCalls())
}

func TestCreateOrderDebitFailureCompensatesInReverse(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{"book-1": 10, "book-2": 10, "book-3": 10})
	fx.inv.adjustErr["book-3"] = fmt.Errorf("%w: would go negative", inventory.ErrRejected)

	in := CreateOrderInput{
		UserID: "user-1",
		Items: []ItemInput{
			{BookID: "book-1", Quantity: 2, UnitPrice: price("1.00")},
			{BookID: "book-2", Quantity: 3, UnitPrice: price("1.00")},
			{BookID: "book-3", Quantity: 1, UnitPrice: price("1.00")},
		},
	}

	_, err := fx.svc.CreateOrder(ctx, in)

	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.ErrorIs(t, err, inventory.ErrRejected)

	calls := fx.inv.adjustCalls()
	require.Len(t, calls, 4, "two debits plus two reversing credits")
	assert.Equal(t, -2, calls[0].Delta)
	assert.Equal(t, -3, calls[1].Delta)
	assert.Equal(t, adjustCall{BookID: "book-2", Delta: 3, Note: "compensate:" + upErr.OrderID}, calls[2])
	assert.Equal(t, adjustCall{BookID: "book-1", Delta: 2, Note: "compensate:" + upErr.OrderID}, calls[3])

	stored, getErr := fx.repo.Get(ctx, upErr.OrderID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.Equal(t, "stock_adjustment_rejected", stored.FailureReason)
	assert.Equal(t, 0, fx.pay.calls, "payment must not run after a failed debit")
	assert.Contains(t, fx.events.names(), "order.cancelled")
}

func TestCreateOrderPaymentDeclinedCompensatesEverything(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{"book-1": 10, "book-2": 3})
	fx.pay.outcome = payment.OutcomeDeclined

	_, err := fx.svc.CreateOrder(ctx, twoBookInput(""))

	var declined *PaymentDeclinedError
	require.ErrorAs(t, err, &declined)

	calls := fx.inv.adjustCalls()
	require.Len(t, calls, 4)
	assert.Equal(t, adjustCall{BookID: "book-2", Delta: 1, Note: "compensate:" + declined.OrderID}, calls[2])
	assert.Equal(t, adjustCall{BookID: "book-1", Delta: 2, Note: "compensate:" + declined.OrderID}, calls[3])

	stored, getErr := fx.repo.Get(ctx, declined.OrderID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.StatusPaymentFailed, stored.Status)
	assert.Equal(t, "payment_declined", stored.FailureReason)
	assert.Contains(t, fx.events.names(), "order.payment_failed")
}

func TestCreateOrderPaymentErrorTreatedAsDecline(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{"book-1": 10, "book-2": 3})
	fx.pay.err = errors.New("gateway timeout")

	_, err := fx.svc.CreateOrder(ctx, twoBookInput(""))

	var declined *PaymentDeclinedError
	require.ErrorAs(t, err, &declined)
	assert.Len(t, fx.inv.adjustCalls(), 4)
}

func TestCreateOrderWithoutKeySkipsLedger(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{"book-1": 10, "book-2": 3})

	first, err := fx.svc.CreateOrder(ctx, twoBookInput(""))
	require.NoError(t, err)
	second, err := fx.svc.CreateOrder(ctx, twoBookInput(""))
	require.NoError(t, err)

	assert.NotEqual(t, first.Order.ID, second.Order.ID, "keyless requests are independent")
	assert.False(t, second.Replayed)
}

func TestGetOrder(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(map[string]int{"book-1": 10, "book-2": 3})

	created, err := fx.svc.CreateOrder(ctx, twoBookInput(""))
	require.NoError(t, err)

	got, err := fx.svc.GetOrder(ctx, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Order.ID, got.ID)

	_, err = fx.svc.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = fx.svc.GetOrder(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompensatorReverseOrderAndIndependence(t *testing.T) {
	ctx := context.Background()
	inv := newFakeInventory(nil)
	comp := NewCompensator(inv, "ord-9", nil)

	comp.RecordApplied("book-1", 2)
	comp.RecordApplied("book-2", 1)
	comp.RecordApplied("book-3", 4)
	require.Equal(t, 3, comp.Applied())

	// the middle credit fails; the remaining entries still run
	inv.mu.Lock()
	inv.adjustErr["book-2"] = errors.New("boom")
	inv.mu.Unlock()

	failures := comp.CompensateAll(ctx)
	require.Len(t, failures, 1)
	assert.Equal(t, "book-2", failures[0].BookID)
	assert.Equal(t, 1, failures[0].Quantity)

	calls := inv.adjustCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, adjustCall{BookID: "book-3", Delta: 4, Note: "compensate:ord-9"}, calls[0])
	assert.Equal(t, adjustCall{BookID: "book-1", Delta: 2, Note: "compensate:ord-9"}, calls[1])

	assert.Equal(t, 0, comp.Applied(), "state clears after a pass")
}
