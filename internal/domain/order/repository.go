package order

import "context"

// Repository persists orders together with their line items. Insert must
// write the order and all of its line items atomically.
type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, order *Order) error
}
