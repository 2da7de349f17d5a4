package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDeclined Outcome = "declined"
)

// Authorizer is the outbound port for payment authorization. There is no
// partial or pending state; the gateway either approves or declines
// synchronously.
type Authorizer interface {
	Authorize(ctx context.Context, orderID string, amount decimal.Decimal) (Outcome, error)
}
