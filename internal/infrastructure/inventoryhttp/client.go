package inventoryhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bookbarn/checkout/internal/domain/inventory"
	"github.com/bookbarn/checkout/internal/observability"
	"github.com/bookbarn/checkout/internal/observability/logctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

const (
	componentInventoryClient = "inventory_client"

	opGetAvailability = "get_availability"
	opAdjustStock     = "adjust_stock"
)

type Config struct {
	BaseURL        string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration // per-attempt budget
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

func (c *Config) withDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 2 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Second
	}
}

// Client calls the remote inventory service with a bounded retry policy:
// connection failures and 5xx responses retry with exponential backoff, a
// definitive refusal never retries.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        observability.Logger
	tracer     observability.TraceCtx
	reqCounter observability.Counter
	durHist    observability.Histogram
}

func New(cfg Config, tel observability.Telemetry) *Client {
	cfg.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if tel == nil {
		tel = observability.NopTelemetry()
	}

	// The http.Client carries no Timeout of its own; each attempt is bounded
	// by its per-attempt context.
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		log:        tel.Logger().With(observability.F("component", componentInventoryClient)),
		tracer:     tel.Tracer(),
		reqCounter: tel.Counter(observability.MInventoryRequests),
		durHist:    tel.Histogram(observability.MInventoryRequestLatency),
	}
}

type availabilityResponse struct {
	BookID            string `json:"book_id"`
	QuantityAvailable int    `json:"quantity_available"`
}

type adjustRequest struct {
	QuantityChange int    `json:"quantity_change"`
	Notes          string `json:"notes"`
}

func (c *Client) GetAvailability(ctx context.Context, bookID string) (_ int, err error) {
	ctx, finish := c.instrument(ctx, opGetAvailability, attribute.String("inventory.book_id", bookID))
	defer func() { finish(err) }()

	target := fmt.Sprintf("%s/inventory/%s", c.cfg.BaseURL, url.PathEscape(bookID))
	status, body, err := c.doWithRetry(ctx, opGetAvailability, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
	if err != nil {
		return 0, err
	}

	switch {
	case status == http.StatusOK:
		var payload availabilityResponse
		if decodeErr := json.Unmarshal(body, &payload); decodeErr != nil {
			return 0, fmt.Errorf("%w: decode availability: %v", inventory.ErrUnavailable, decodeErr)
		}
		return payload.QuantityAvailable, nil
	case status == http.StatusNotFound:
		// A book the inventory service does not know reads as zero stock.
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %s", inventory.ErrRejected, remoteMessage(status, body))
	}
}

func (c *Client) AdjustStock(ctx context.Context, bookID string, delta int, note string) (err error) {
	ctx, finish := c.instrument(ctx, opAdjustStock,
		attribute.String("inventory.book_id", bookID),
		attribute.Int("inventory.delta", delta),
	)
	defer func() { finish(err) }()

	payload, err := json.Marshal(adjustRequest{QuantityChange: delta, Notes: note})
	if err != nil {
		return fmt.Errorf("inventory client: marshal adjustment: %w", err)
	}

	target := fmt.Sprintf("%s/inventory/adjust?book_id=%s", c.cfg.BaseURL, url.QueryEscape(bookID))
	status, body, err := c.doWithRetry(ctx, opAdjustStock, func(ctx context.Context) (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}

	if status >= 200 && status < 300 {
		return nil
	}
	return fmt.Errorf("%w: %s", inventory.ErrRejected, remoteMessage(status, body))
}

// doWithRetry runs the request up to MaxAttempts times. Only transport
// failures and 5xx responses retry; any other status is returned to the
// caller for classification. The returned error is always ErrUnavailable
// (wrapped) once the budget is exhausted.
func (c *Client) doWithRetry(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error)) (int, []byte, error) {
	logger := logctx.FromOr(ctx, c.log).With(observability.F("op", op))

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return 0, nil, fmt.Errorf("%w: %v", inventory.ErrUnavailable, err)
			}
		}

		status, body, err := c.attempt(ctx, build)
		if err != nil {
			lastErr = err
			logger.Warn("inventory_attempt_failed",
				observability.F("attempt", attempt+1),
				observability.F("error", err.Error()),
			)
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("upstream returned %d: %s", status, remoteMessage(status, body))
			logger.Warn("inventory_attempt_failed",
				observability.F("attempt", attempt+1),
				observability.F("status", status),
			)
			continue
		}
		return status, body, nil
	}

	return 0, nil, fmt.Errorf("%w: %d attempts: %v", inventory.ErrUnavailable, c.cfg.MaxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := build(attemptCtx)
	if err != nil {
		return 0, nil, err
	}
	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	d := c.cfg.BackoffBase * time.Duration(1<<(attempt-1))
	if d > c.cfg.BackoffMax {
		d = c.cfg.BackoffMax
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// instrument opens a client span and returns a closure that finishes the
// span and records the RED metrics for the operation.
func (c *Client) instrument(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := c.tracer.Start(ctx, "inventory."+op, attrs...)
	span.SetAttributes(attribute.String("peer.service", "inventory"))
	start := time.Now()

	return ctx, func(err error) {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		if c.reqCounter != nil {
			c.reqCounter.Add(1,
				observability.L("op", op),
				observability.L("outcome", outcome),
			)
		}
		if c.durHist != nil {
			c.durHist.Observe(time.Since(start).Seconds(),
				observability.L("op", op),
			)
		}
	}
}

func remoteMessage(status int, body []byte) string {
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return http.StatusText(status)
	}
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}

var _ inventory.Client = (*Client)(nil)
