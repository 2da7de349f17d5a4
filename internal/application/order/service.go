package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookbarn/checkout/internal/domain/idempotency"
	"github.com/bookbarn/checkout/internal/domain/inventory"
	domain "github.com/bookbarn/checkout/internal/domain/order"
	domoutbox "github.com/bookbarn/checkout/internal/domain/outbox"
	"github.com/bookbarn/checkout/internal/domain/payment"
	"github.com/bookbarn/checkout/internal/observability"
	"github.com/bookbarn/checkout/internal/observability/logctx"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	checkoutService    = "checkout"
	useCaseOrderCreate = "order.create"
	useCaseOrderGet    = "order.get"
	spanPrefix         = "UC."
	publishTimeout     = 300 * time.Millisecond

	reasonPaymentDeclined = "payment_declined"
)

// Service orchestrates the order creation workflow: idempotency decision,
// availability pre-check, pending insert, per-item debits with
// compensation, payment authorization and the terminal transition.
type Service struct {
	repo      domain.Repository
	ledger    idempotency.Ledger
	inv       inventory.Client
	payments  payment.Authorizer
	ids       IDGenerator
	publisher domoutbox.Publisher
	currency  string

	tel observability.Telemetry
	log observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewService(
	repo domain.Repository,
	ledger idempotency.Ledger,
	inv inventory.Client,
	payments payment.Authorizer,
	ids IDGenerator,
	publisher domoutbox.Publisher,
	currency string,
	tel observability.Telemetry,
) *Service {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	if currency == "" {
		currency = "USD"
	}
	return &Service{
		repo:         repo,
		ledger:       ledger,
		inv:          inv,
		payments:     payments,
		ids:          ids,
		publisher:    publisher,
		currency:     currency,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", checkoutService)),
		reqCounter:   tel.Counter(observability.MUsecaseRequests),
		durHistogram: tel.Histogram(observability.MUsecaseDuration),
	}
}

type ItemInput struct {
	BookID    string
	Quantity  int
	UnitPrice decimal.Decimal
}

type CreateOrderInput struct {
	IdempotencyKey string
	UserID         string
	Items          []ItemInput
}

type CreateOrderResult struct {
	Order    *domain.Order
	Replayed bool
}

// fingerprintPayload is the canonical shape hashed for idempotency
// comparison; it mirrors the wire format of the request body.
type fingerprintPayload struct {
	UserID string            `json:"user_id"`
	Items  []fingerprintItem `json:"items"`
}

type fingerprintItem struct {
	BookID    string          `json:"book_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateOrder runs the full creation workflow. Once the first debit is
// applied the workflow is detached from caller cancellation and always
// reaches a terminal status with compensation at least attempted.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (_ *CreateOrderResult, err error) {
	logger := logctx.FromOr(ctx, s.log).With(observability.F("use_case", useCaseOrderCreate))

	ctx, span := s.tel.Tracer().Start(ctx, spanPrefix+"CreateOrder",
		attribute.String("use_case", useCaseOrderCreate),
		attribute.String("order.user_id", in.UserID),
		attribute.Int("order.items", len(in.Items)),
		attribute.Bool("order.idempotency_key_present", in.IdempotencyKey != ""),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var orderID string

	defer func() {
		lat := time.Since(start).Seconds()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		if s.reqCounter != nil {
			s.reqCounter.Add(1,
				observability.L("use_case", useCaseOrderCreate),
				observability.L("outcome", outcome),
			)
		}
		if s.durHistogram != nil {
			s.durHistogram.Observe(lat,
				observability.L("use_case", useCaseOrderCreate),
			)
		}

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if orderID != "" {
			fields = append(fields, observability.F("order_id", orderID))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}

		logger.Info("use_case_done", fields...)
	}()

	// The order id is reserved up-front so the idempotency record can point
	// at it before any row exists.
	reservedID := s.ids.NewID()

	if in.IdempotencyKey != "" && s.ledger != nil {
		fingerprint, fpErr := idempotency.Fingerprint(canonicalPayload(in))
		if fpErr != nil {
			outcome, statusText = "error", "FINGERPRINT_FAILED"
			return nil, fmt.Errorf("order: fingerprint: %w", fpErr)
		}

		decision, decErr := s.ledger.Decide(ctx, in.IdempotencyKey, fingerprint, reservedID)
		if decErr != nil {
			outcome, statusText = "error", "IDEMPOTENCY_DECIDE_FAILED"
			return nil, fmt.Errorf("order: idempotency decide: %w", decErr)
		}

		switch decision.Outcome {
		case idempotency.OutcomeReplay:
			existing, getErr := s.repo.Get(ctx, decision.OrderID)
			switch {
			case getErr == nil:
				orderID = existing.ID
				statusText = "IDEMPOTENT_REPLAY"
				span.AddEvent("order.idempotent_replay",
					trace.WithAttributes(attribute.String("order.id", orderID)),
				)
				return &CreateOrderResult{Order: existing, Replayed: true}, nil
			case errors.Is(getErr, domain.ErrNotFound):
				// The key is reserved but no order row ever landed: a prior
				// attempt aborted before the insert. Resume ownership of the
				// reserved id and run the workflow.
				reservedID = decision.OrderID
				span.AddEvent("order.reservation_resumed",
					trace.WithAttributes(attribute.String("order.id", reservedID)),
				)
			default:
				outcome, statusText = "error", "REPLAY_LOOKUP_FAILED"
				return nil, fmt.Errorf("order: replay lookup: %w", getErr)
			}
		case idempotency.OutcomeConflict:
			outcome, statusText = "error", "IDEMPOTENCY_CONFLICT"
			return nil, ErrIdempotencyConflict
		}
	}

	if vErr := validate(in); vErr != nil {
		outcome, statusText = "error", "VALIDATION_FAILED"
		return nil, vErr
	}

	shortfalls, preErr := s.precheckAvailability(ctx, in.Items)
	if preErr != nil {
		outcome, statusText = "error", "AVAILABILITY_CHECK_FAILED"
		return nil, &UpstreamError{Cause: preErr}
	}
	if len(shortfalls) > 0 {
		outcome, statusText = "error", "INSUFFICIENT_STOCK"
		return nil, &InsufficientStockError{Shortfalls: shortfalls}
	}

	items := make([]domain.LineItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, domain.LineItem{
			BookID:    it.BookID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	entity, newErr := domain.New(reservedID, in.UserID, s.currency, in.IdempotencyKey, items)
	if newErr != nil {
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, newValidation(newErr.Error())
	}
	orderID = entity.ID

	if insErr := s.repo.Insert(ctx, entity); insErr != nil {
		outcome, statusText = "error", "REPO_INSERT_FAILED"
		return nil, fmt.Errorf("order: insert: %w", insErr)
	}
	s.publish(ctx, domain.NewCreatedEvent(entity))

	// From the first debit on, run to a terminal state regardless of the
	// caller hanging up; otherwise stock could stay debited with no
	// compensation attempted.
	dctx := context.WithoutCancel(ctx)
	comp := NewCompensator(s.inv, entity.ID, s.tel)

	for _, it := range entity.Items {
		if adjErr := s.inv.AdjustStock(dctx, it.BookID, -it.Quantity, "order:"+entity.ID); adjErr != nil {
			comp.CompensateAll(dctx)
			s.finalize(dctx, logger, entity, domain.StatusCancelled, upstreamReason(adjErr))
			outcome, statusText = "error", "DEBIT_FAILED"
			return nil, &UpstreamError{OrderID: entity.ID, Cause: adjErr}
		}
		comp.RecordApplied(it.BookID, it.Quantity)
	}

	payOutcome, payErr := s.payments.Authorize(dctx, entity.ID, entity.Total)
	if payErr != nil || payOutcome != payment.OutcomeApproved {
		comp.CompensateAll(dctx)
		s.finalize(dctx, logger, entity, domain.StatusPaymentFailed, reasonPaymentDeclined)
		outcome, statusText = "error", "PAYMENT_DECLINED"
		return nil, &PaymentDeclinedError{OrderID: entity.ID}
	}

	s.finalize(dctx, logger, entity, domain.StatusConfirmed, "")
	span.AddEvent("order.confirmed",
		trace.WithAttributes(attribute.String("order.id", entity.ID)),
	)

	return &CreateOrderResult{Order: entity}, nil
}

// GetOrder is a pure read with no side effects.
func (s *Service) GetOrder(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, span := s.tel.Tracer().Start(ctx, spanPrefix+"GetOrder",
		attribute.String("use_case", useCaseOrderGet),
		attribute.String("order.id", id),
	)
	defer func() {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "LOOKUP_FAILED")
		}
		span.End()
	}()

	if id == "" {
		return nil, domain.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func validate(in CreateOrderInput) error {
	if in.UserID == "" {
		return newValidation("user id is required")
	}
	if len(in.Items) == 0 {
		return newValidation("at least one item is required")
	}
	for _, it := range in.Items {
		if it.BookID == "" {
			return newValidation("book id is required")
		}
		if it.Quantity <= 0 {
			return newValidation("quantity must be greater than zero")
		}
		if it.UnitPrice.IsNegative() {
			return newValidation("unit price must be zero or greater")
		}
	}
	return nil
}

// precheckAvailability looks up every item concurrently and reports all
// shortfalls, not just the first.
func (s *Service) precheckAvailability(ctx context.Context, items []ItemInput) ([]Shortfall, error) {
	available := make([]int, len(items))

	g, gctx := errgroup.WithContext(ctx)
	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			qty, err := s.inv.GetAvailability(gctx, it.BookID)
			if err != nil {
				return err
			}
			available[i] = qty
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var shortfalls []Shortfall
	for i, it := range items {
		if available[i] < it.Quantity {
			shortfalls = append(shortfalls, Shortfall{
				BookID:    it.BookID,
				Requested: it.Quantity,
				Available: available[i],
			})
		}
	}
	return shortfalls, nil
}

// finalize records the terminal transition and emits the matching event.
// A failed update is logged, not returned: the caller's error already
// describes the workflow outcome.
func (s *Service) finalize(ctx context.Context, logger observability.Logger, entity *domain.Order, status domain.Status, reason string) {
	var err error
	switch status {
	case domain.StatusConfirmed:
		err = entity.Confirm()
	case domain.StatusCancelled:
		err = entity.Cancel(reason)
	case domain.StatusPaymentFailed:
		err = entity.FailPayment(reason)
	}
	if err != nil {
		logger.Error("order_transition_failed",
			observability.F("order_id", entity.ID),
			observability.F("target_status", string(status)),
			observability.F("error", err.Error()),
		)
		return
	}

	if err := s.repo.Update(ctx, entity); err != nil {
		logger.Error("order_update_failed",
			observability.F("order_id", entity.ID),
			observability.F("target_status", string(status)),
			observability.F("error", err.Error()),
		)
	}

	switch status {
	case domain.StatusConfirmed:
		s.publish(ctx, domain.NewConfirmedEvent(entity))
	case domain.StatusCancelled:
		s.publish(ctx, domain.NewCancelledEvent(entity))
	case domain.StatusPaymentFailed:
		s.publish(ctx, domain.NewPaymentFailedEvent(entity))
	}
}

// publish enqueues an event with a short deadline; losing an event is
// logged and tolerated, the bus is not the system of record.
func (s *Service) publish(ctx context.Context, e domoutbox.Event) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pubCtx, e); err != nil {
		logctx.FromOr(ctx, s.log).Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
}

func canonicalPayload(in CreateOrderInput) fingerprintPayload {
	items := make([]fingerprintItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, fingerprintItem{
			BookID:    it.BookID,
			Qty:       it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return fingerprintPayload{UserID: in.UserID, Items: items}
}

func upstreamReason(err error) string {
	switch {
	case errors.Is(err, inventory.ErrRejected):
		return "stock_adjustment_rejected"
	case errors.Is(err, inventory.ErrUnavailable):
		return "inventory_unavailable"
	default:
		return "inventory_error"
	}
}
