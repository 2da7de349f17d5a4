package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItemSnapshot carries line item data on events without exposing the
// aggregate's own slice.
type LineItemSnapshot struct {
	BookID    string          `json:"book_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreatedEvent is emitted once a pending order and its line items are
// persisted. Downstream consumers must treat delivery as at-least-once and
// deduplicate by order id.
type CreatedEvent struct {
	OrderID    string             `json:"order_id"`
	UserID     string             `json:"user_id"`
	Items      []LineItemSnapshot `json:"items"`
	Total      decimal.Decimal    `json:"total"`
	Currency   string             `json:"currency"`
	OccurredAt time.Time          `json:"occurred_at"`
}

func (CreatedEvent) EventName() string { return "order.created" }
func (e CreatedEvent) OrderRef() string { return e.OrderID }

func NewCreatedEvent(o *Order) CreatedEvent {
	items := make([]LineItemSnapshot, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, LineItemSnapshot{
			BookID:    it.BookID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return CreatedEvent{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Items:      items,
		Total:      o.Total,
		Currency:   o.Currency,
		OccurredAt: time.Now().UTC(),
	}
}

// ConfirmedEvent is emitted when payment is approved and the order commits.
type ConfirmedEvent struct {
	OrderID    string          `json:"order_id"`
	Total      decimal.Decimal `json:"total"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (ConfirmedEvent) EventName() string { return "order.confirmed" }
func (e ConfirmedEvent) OrderRef() string { return e.OrderID }

func NewConfirmedEvent(o *Order) ConfirmedEvent {
	return ConfirmedEvent{OrderID: o.ID, Total: o.Total, OccurredAt: time.Now().UTC()}
}

// CancelledEvent is emitted when an upstream failure forced compensation.
type CancelledEvent struct {
	OrderID    string    `json:"order_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (CancelledEvent) EventName() string { return "order.cancelled" }
func (e CancelledEvent) OrderRef() string { return e.OrderID }

func NewCancelledEvent(o *Order) CancelledEvent {
	return CancelledEvent{OrderID: o.ID, Reason: o.FailureReason, OccurredAt: time.Now().UTC()}
}

// PaymentFailedEvent is emitted when the authorization was declined after all
// debits had been applied and compensated.
type PaymentFailedEvent struct {
	OrderID    string    `json:"order_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (PaymentFailedEvent) EventName() string { return "order.payment_failed" }
func (e PaymentFailedEvent) OrderRef() string { return e.OrderID }

func NewPaymentFailedEvent(o *Order) PaymentFailedEvent {
	return PaymentFailedEvent{OrderID: o.ID, Reason: o.FailureReason, OccurredAt: time.Now().UTC()}
}
