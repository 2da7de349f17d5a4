package paymentsim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/bookbarn/checkout/internal/domain/payment"
	"github.com/bookbarn/checkout/internal/observability"
	"github.com/shopspring/decimal"
)

// Simulator stands in for a real payment gateway. Each instance owns its
// success ratio and random source, so tests can run independent simulators
// with different deterministic outcomes in parallel.
type Simulator struct {
	mu           sync.Mutex
	rng          *rand.Rand
	successRatio float64
	forced       *payment.Outcome
	log          observability.Logger
}

type Option func(*Simulator)

// WithForcedOutcome pins every authorization to the given outcome,
// bypassing the random draw. Used by tests and ops drills.
func WithForcedOutcome(outcome payment.Outcome) Option {
	return func(s *Simulator) { s.forced = &outcome }
}

// WithSeed makes the Bernoulli draw sequence reproducible.
func WithSeed(seed int64) Option {
	return func(s *Simulator) { s.rng = rand.New(rand.NewSource(seed)) }
}

func WithLogger(logger observability.Logger) Option {
	return func(s *Simulator) {
		if logger != nil {
			s.log = logger.With(observability.F("component", "payment_simulator"))
		}
	}
}

func New(successRatio float64, opts ...Option) *Simulator {
	if successRatio < 0 {
		successRatio = 0
	}
	if successRatio > 1 {
		successRatio = 1
	}
	s := &Simulator{
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		successRatio: successRatio,
		log:          observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorize approves or declines synchronously. There is no pending state.
func (s *Simulator) Authorize(ctx context.Context, orderID string, amount decimal.Decimal) (payment.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// respect cancellation even though this is simulated
	select {
	case <-ctx.Done():
		return payment.OutcomeDeclined, ctx.Err()
	default:
	}

	outcome := payment.OutcomeDeclined
	switch {
	case s.forced != nil:
		outcome = *s.forced
	case s.rng.Float64() <= s.successRatio:
		outcome = payment.OutcomeApproved
	}

	s.log.Debug("payment_authorized",
		observability.F("order_id", orderID),
		observability.F("amount", amount.String()),
		observability.F("outcome", string(outcome)),
	)
	return outcome, nil
}

var _ payment.Authorizer = (*Simulator)(nil)
