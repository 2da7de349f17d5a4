package kafkanotify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domoutbox "github.com/bookbarn/checkout/internal/domain/outbox"
	"github.com/bookbarn/checkout/internal/observability"
	"github.com/bookbarn/checkout/internal/observability/logctx"
	workerpresentation "github.com/bookbarn/checkout/internal/presentation/worker"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

const componentRelay = "kafka_relay"

// relayedEvents lists the bus events forwarded to Kafka. Delivery is
// at-least-once; consumers deduplicate by order id.
var relayedEvents = []string{
	"order.created",
	"order.confirmed",
	"order.cancelled",
	"order.payment_failed",
}

// MessageWriter is the narrow slice of kafka.Writer the relay needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter builds a kafka.Writer keyed by order id so all events for one
// order land on the same partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// orderEvent is satisfied by every order domain event.
type orderEvent interface {
	domoutbox.Event
	OrderRef() string
}

type envelope struct {
	Event     string          `json:"event"`
	OrderID   string          `json:"order_id"`
	Payload   json.RawMessage `json:"payload"`
	RelayedAt time.Time       `json:"relayed_at"`
}

// Relay subscribes to the in-process bus and forwards order events to a
// Kafka topic.
type Relay struct {
	writer  MessageWriter
	log     observability.Logger
	relayed observability.Counter
	tel     observability.Telemetry
}

func NewRelay(writer MessageWriter, tel observability.Telemetry) *Relay {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Relay{
		writer:  writer,
		log:     tel.Logger().With(observability.F("component", componentRelay)),
		relayed: tel.Counter(observability.MEventRelayed),
		tel:     tel,
	}
}

// Register wires the relay onto the bus for every relayed event name.
func (r *Relay) Register(sub domoutbox.Subscriber) {
	for _, name := range relayedEvents {
		sub.Subscribe(name, r.handle)
	}
}

func (r *Relay) handle(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(orderEvent)
	if !ok {
		return nil
	}

	sc := trace.SpanContextFromContext(ctx)
	ctx = workerpresentation.WithEventContext(ctx, r.log, r.tel, sc.TraceID(), sc.SpanID(), map[string]string{
		"event":    e.EventName(),
		"order_id": evt.OrderRef(),
	})
	logger := logctx.FromOr(ctx, r.log)

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka relay: marshal %s: %w", e.EventName(), err)
	}
	value, err := json.Marshal(envelope{
		Event:     e.EventName(),
		OrderID:   evt.OrderRef(),
		Payload:   payload,
		RelayedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("kafka relay: marshal envelope: %w", err)
	}

	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.OrderRef()),
		Value: value,
	})
	outcome := "success"
	if err != nil {
		outcome = "error"
		logger.Error("event_relay_failed",
			observability.F("error", err.Error()),
		)
	} else {
		logger.Debug("event_relayed")
	}
	if r.relayed != nil {
		r.relayed.Add(1,
			observability.L("event", e.EventName()),
			observability.L("outcome", outcome),
		)
	}
	return err
}
