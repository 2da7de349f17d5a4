package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appOrder "github.com/bookbarn/checkout/internal/application/order"
	"github.com/bookbarn/checkout/internal/domain/idempotency"
	domainOrder "github.com/bookbarn/checkout/internal/domain/order"
	domainPayment "github.com/bookbarn/checkout/internal/domain/payment"
	"github.com/bookbarn/checkout/internal/infrastructure/gormstore"
	"github.com/bookbarn/checkout/internal/infrastructure/id"
	"github.com/bookbarn/checkout/internal/infrastructure/inventoryhttp"
	"github.com/bookbarn/checkout/internal/infrastructure/kafkanotify"
	"github.com/bookbarn/checkout/internal/infrastructure/memory"
	"github.com/bookbarn/checkout/internal/infrastructure/observability/oteltrace"
	"github.com/bookbarn/checkout/internal/infrastructure/observability/prometrics"
	"github.com/bookbarn/checkout/internal/infrastructure/observability/telemetry"
	"github.com/bookbarn/checkout/internal/infrastructure/observability/zaplogger"
	"github.com/bookbarn/checkout/internal/infrastructure/outbox"
	"github.com/bookbarn/checkout/internal/infrastructure/paymentsim"
	"github.com/bookbarn/checkout/internal/infrastructure/redisledger"
	"github.com/bookbarn/checkout/internal/observability"
	"github.com/bookbarn/checkout/internal/pkg/config"
	httppresentation "github.com/bookbarn/checkout/internal/presentation/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load(getenvDefault("CHECKOUT_CONFIG", "config.yaml"))
	if err != nil {
		panic(err)
	}

	baseLogger := zaplogger.New(cfg.Log.Level,
		observability.F("service", cfg.Service.Name),
		observability.F("env", cfg.Service.Env),
	)

	tracer := observability.NopTracer()
	if cfg.Tracing.JaegerEndpoint != "" {
		tp, err := oteltrace.InitProvider(cfg.Service.Name, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			baseLogger.Error("tracer_init_failed", observability.F("error", err.Error()))
		} else {
			tracer = oteltrace.New(cfg.Service.Name)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	metrics := prometrics.New("", "checkout")
	tel := telemetry.New(tracer, baseLogger,
		map[string]observability.Counter{
			observability.MUsecaseRequests:    metrics.Counter(observability.MUsecaseRequests, "Total number of use case invocations.", "use_case", "outcome"),
			observability.MHTTPRequests:       metrics.Counter(observability.MHTTPRequests, "Total number of HTTP requests.", "method", "route", "status"),
			observability.MInventoryRequests:  metrics.Counter(observability.MInventoryRequests, "Total number of inventory service calls.", "op", "outcome"),
			observability.MCompensationFailed: metrics.Counter(observability.MCompensationFailed, "Count of compensating credits that did not land."),
			observability.MEventRelayed:       metrics.Counter(observability.MEventRelayed, "Count of order events relayed to Kafka.", "event", "outcome"),
		},
		map[string]observability.Histogram{
			observability.MUsecaseDuration:         metrics.Histogram(observability.MUsecaseDuration, "Duration of use case execution in seconds.", nil, "use_case"),
			observability.MHTTPRequestDuration:     metrics.Histogram(observability.MHTTPRequestDuration, "Duration of HTTP requests in seconds.", nil, "method", "route", "status"),
			observability.MInventoryRequestLatency: metrics.Histogram(observability.MInventoryRequestLatency, "Duration of inventory service calls in seconds.", nil, "op"),
		},
	)

	repo, ledger, err := buildStores(cfg)
	if err != nil {
		baseLogger.Error("store_init_failed", observability.F("error", err.Error()))
		os.Exit(1)
	}

	bus := outbox.NewBus(baseLogger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	inventoryClient := inventoryhttp.New(inventoryhttp.Config{
		BaseURL:        cfg.Inventory.BaseURL,
		ConnectTimeout: cfg.Inventory.ConnectTimeout.Std(),
		RequestTimeout: cfg.Inventory.RequestTimeout.Std(),
		MaxAttempts:    cfg.Inventory.MaxAttempts,
		BackoffBase:    cfg.Inventory.BackoffBase.Std(),
		BackoffMax:     cfg.Inventory.BackoffMax.Std(),
	}, tel)

	payments := buildPayments(cfg, baseLogger)

	orderService := appOrder.NewService(
		repo, ledger, inventoryClient, payments,
		id.NewUUIDGenerator(), bus, cfg.Currency, tel,
	)

	if len(cfg.Kafka.Brokers) > 0 {
		writer := kafkanotify.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = writer.Close() }()
		kafkanotify.NewRelay(writer, tel).Register(bus)
	}

	handlerOpts := []httppresentation.Option{
		httppresentation.WithMount("/metrics", promhttp.Handler()),
	}
	if cfg.HTTP.RequireIdempotencyKey {
		handlerOpts = append(handlerOpts, httppresentation.WithRequiredIdempotencyKey())
	}
	handler := httppresentation.NewHandler(orderService, tel, handlerOpts...)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: handler.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Error("http_server_error",
				observability.F("error", err.Error()),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("http_server_shutdown_error",
			observability.F("error", err.Error()),
		)
	} else {
		baseLogger.Info("http_server_stopped")
	}
}

func buildStores(cfg config.Config) (domainOrder.Repository, idempotency.Ledger, error) {
	var repo domainOrder.Repository
	var ledger idempotency.Ledger

	switch cfg.Store.Driver {
	case "mysql":
		db, err := gormstore.Open(cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		repo = gormstore.NewOrderRepository(db)
		if cfg.Ledger.Backend == "mysql" {
			ledger = gormstore.NewIdempotencyLedger(db)
		}
	default:
		repo = memory.NewOrderRepository()
	}

	switch cfg.Ledger.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Ledger.RedisAddr})
		ledger = redisledger.New(client, "checkout")
	case "memory":
		ledger = memory.NewIdempotencyLedger()
	}

	return repo, ledger, nil
}

func buildPayments(cfg config.Config, logger observability.Logger) domainPayment.Authorizer {
	opts := []paymentsim.Option{paymentsim.WithLogger(logger)}
	switch cfg.Payment.ForcedOutcome {
	case "approved":
		opts = append(opts, paymentsim.WithForcedOutcome(domainPayment.OutcomeApproved))
	case "declined":
		opts = append(opts, paymentsim.WithForcedOutcome(domainPayment.OutcomeDeclined))
	}
	return paymentsim.New(cfg.Payment.SuccessRatio, opts...)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
