package httppresentation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	appOrder "github.com/bookbarn/checkout/internal/application/order"
	domainInventory "github.com/bookbarn/checkout/internal/domain/inventory"
	domainOrder "github.com/bookbarn/checkout/internal/domain/order"
	"github.com/bookbarn/checkout/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
)

type Handler struct {
	orders           *appOrder.Service
	log              observability.Logger
	tel              observability.Telemetry
	requireIdemKey   bool
	extraMountpoints map[string]http.Handler
}

type Option func(*Handler)

// WithRequiredIdempotencyKey rejects order creation requests that carry no
// Idempotency-Key header.
func WithRequiredIdempotencyKey() Option {
	return func(h *Handler) { h.requireIdemKey = true }
}

// WithMount attaches an extra handler (e.g. a metrics endpoint) at the
// given path, outside the order routes' middleware chain.
func WithMount(path string, handler http.Handler) Option {
	return func(h *Handler) { h.extraMountpoints[path] = handler }
}

func NewHandler(orders *appOrder.Service, tel observability.Telemetry, opts ...Option) *Handler {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	h := &Handler{
		orders:           orders,
		log:              tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:              tel,
		extraMountpoints: make(map[string]http.Handler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Chain per request: Trace → Request Logger → Metrics → Access Log → Handler
	r.Group(func(r chi.Router) {
		r.Use(withTrace)
		r.Use(ObservabilityMiddleware(h.log, func(r *http.Request) string {
			return r.Header.Get(headerRequestID)
		}, h.tel))
		r.Use(withHTTPMetrics(h.tel))
		r.Use(withAccessLog(h.log))

		r.Post("/orders", h.handleCreateOrder)
		r.Get("/orders/{orderID}", h.handleGetOrder)
	})

	r.Get("/health", h.handleHealth)
	for path, handler := range h.extraMountpoints {
		r.Handle(path, handler)
	}

	return r
}

type itemRequest struct {
	BookID    string          `json:"book_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createOrderRequest struct {
	UserID string        `json:"user_id"`
	Items  []itemRequest `json:"items"`
}

type itemResponse struct {
	BookID    string          `json:"book_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type orderResponse struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Status        string          `json:"status"`
	Items         []itemResponse  `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type shortfallResponse struct {
	BookID    string `json:"book_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type errorResponse struct {
	Error  string              `json:"error"`
	Detail string              `json:"detail,omitempty"`
	Items  []shortfallResponse `json:"items,omitempty"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	idemKey := r.Header.Get(headerIdempotencyKey)
	if h.requireIdemKey && idemKey == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Idempotency-Key header is required")
		return
	}

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	items := make([]appOrder.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, appOrder.ItemInput{
			BookID:    it.BookID,
			Quantity:  it.Qty,
			UnitPrice: it.UnitPrice,
		})
	}

	result, err := h.orders.CreateOrder(r.Context(), appOrder.CreateOrderInput{
		IdempotencyKey: idemKey,
		UserID:         req.UserID,
		Items:          items,
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toOrderResponse(result.Order))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	entity, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domainOrder.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no order with id "+orderID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(entity))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeWorkflowError maps workflow errors onto the HTTP error contract.
// Payment declines and upstream failures leave no net stock change, so
// callers may safely retry with the same idempotency key.
func (h *Handler) writeWorkflowError(w http.ResponseWriter, err error) {
	var (
		validationErr *appOrder.ValidationError
		stockErr      *appOrder.InsufficientStockError
		paymentErr    *appOrder.PaymentDeclinedError
		upstreamErr   *appOrder.UpstreamError
	)

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "validation_error", validationErr.Detail)
	case errors.Is(err, appOrder.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, "idempotency_conflict",
			"idempotency key was already used with a different payload")
	case errors.As(err, &stockErr):
		resp := errorResponse{Error: "insufficient_stock"}
		for _, s := range stockErr.Shortfalls {
			resp.Items = append(resp.Items, shortfallResponse{
				BookID:    s.BookID,
				Requested: s.Requested,
				Available: s.Available,
			})
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &paymentErr):
		writeError(w, http.StatusBadRequest, "payment_failed",
			"payment was declined; order "+paymentErr.OrderID+" recorded as payment_failed")
	case errors.As(err, &upstreamErr):
		if errors.Is(err, domainInventory.ErrUnavailable) {
			writeError(w, http.StatusBadGateway, "upstream_unavailable",
				"inventory service did not respond; order cancelled")
			return
		}
		writeError(w, http.StatusConflict, "upstream_rejected",
			"inventory service rejected a stock adjustment; order cancelled")
	default:
		h.log.Error("unhandled_workflow_error", observability.F("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func toOrderResponse(o *domainOrder.Order) orderResponse {
	items := make([]itemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemResponse{
			BookID:    it.BookID,
			Qty:       it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	return orderResponse{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		Items:         items,
		Total:         o.Total,
		Currency:      o.Currency,
		FailureReason: o.FailureReason,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorResponse{Error: code, Detail: detail})
}
