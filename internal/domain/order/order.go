package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: already exists")
	ErrNoItems                = errors.New("order: at least one line item is required")
	ErrInvalidQuantity        = errors.New("order: quantity must be greater than zero")
	ErrInvalidUnitPrice       = errors.New("order: unit price must be zero or greater")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusConfirmed     Status = "confirmed"
	StatusCancelled     Status = "cancelled"
	StatusPaymentFailed Status = "payment_failed"
)

// LineItem is owned exclusively by its Order and never mutated after creation.
type LineItem struct {
	BookID    string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

type Order struct {
	ID             string
	UserID         string
	Items          []LineItem
	Total          decimal.Decimal
	Currency       string
	Status         Status
	FailureReason  string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// New builds a pending order and computes the line and order totals exactly
// once. The total is never recomputed afterwards.
func New(id, userID, currency, idempotencyKey string, items []LineItem) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	total := decimal.Zero
	built := make([]LineItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if item.UnitPrice.IsNegative() {
			return nil, ErrInvalidUnitPrice
		}
		item.LineTotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.LineTotal)
		built = append(built, item)
	}

	now := time.Now().UTC()
	return &Order{
		ID:             id,
		UserID:         userID,
		Items:          built,
		Total:          total,
		Currency:       currency,
		Status:         StatusPending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (o *Order) Confirm() error {
	next, err := stateFor(o.Status).confirm()
	if err != nil {
		return err
	}
	o.Status = next
	o.FailureReason = ""
	o.touch()
	return nil
}

func (o *Order) Cancel(reason string) error {
	next, err := stateFor(o.Status).cancel()
	if err != nil {
		return err
	}
	o.Status = next
	o.FailureReason = reason
	o.touch()
	return nil
}

func (o *Order) FailPayment(reason string) error {
	next, err := stateFor(o.Status).failPayment()
	if err != nil {
		return err
	}
	o.Status = next
	o.FailureReason = reason
	o.touch()
	return nil
}

// Terminal reports whether the order reached one of its final statuses.
// Terminal orders accept no further mutation.
func (o *Order) Terminal() bool {
	switch o.Status {
	case StatusConfirmed, StatusCancelled, StatusPaymentFailed:
		return true
	}
	return false
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy so repositories can hand out isolated values.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]LineItem(nil), o.Items...)
	return &clone
}
