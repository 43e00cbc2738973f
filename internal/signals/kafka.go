package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const sourceKafka = "kafka"

// Типы событий в топике заказов.
const (
	EventOrderCompleted = "order.completed"
	EventOrderCancelled = "order.cancelled"
	EventOrderRefunded  = "order.refunded"
)

var ErrUnknownEventType = errors.New("unknown order event type")

// orderEvent — тело сообщения в топике заказов.
type orderEvent struct {
	EventID     string `json:"event_id"`
	Type        string `json:"type"`
	ReferenceID string `json:"reference_id"`
	VerifiedBy  string `json:"verified_by"`
}

// DecodeMessage превращает сообщение Kafka в Signal. ID и тип события
// берутся из заголовков, затем из тела, затем из ключа сообщения.
func DecodeMessage(msg kafka.Message) (Signal, error) {
	var ev orderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return Signal{}, fmt.Errorf("decode order event: %w", err)
	}

	eventID := headerValue(msg.Headers, "event_id")
	if eventID == "" {
		eventID = ev.EventID
	}
	if eventID == "" {
		eventID = string(msg.Key)
	}
	eventType := headerValue(msg.Headers, "event_type")
	if eventType == "" {
		eventType = ev.Type
	}

	switch eventType {
	case EventOrderCompleted:
		return OrderCompleted(sourceKafka, eventID, ev.ReferenceID, ev.VerifiedBy), nil
	case EventOrderCancelled, EventOrderRefunded:
		return OrderCancelled(sourceKafka, eventID, ev.ReferenceID), nil
	default:
		return Signal{}, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

// MessageReader — часть kafka.Reader, нужная потребителю.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

type Consumer struct {
	reader  MessageReader
	adapter *Adapter
	log     zerolog.Logger
	backoff time.Duration
}

func NewConsumer(cfg ConsumerConfig, adapter *Adapter, log zerolog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewConsumerWithReader(reader, adapter, log)
}

func NewConsumerWithReader(reader MessageReader, adapter *Adapter, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader:  reader,
		adapter: adapter,
		log:     log.With().Str("component", "kafka_consumer").Logger(),
		backoff: time.Second,
	}
}

// Run читает топик до отмены ctx. Ошибки сообщений логируются и не
// останавливают чтение.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Msg("kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		c.consume(ctx, msg)
	}
}

func (c *Consumer) consume(ctx context.Context, msg kafka.Message) {
	ctxMsg := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: msg.Headers})
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	sig, err := DecodeMessage(msg)
	if err != nil {
		c.log.Warn().Err(err).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("malformed order event dropped")
		span.RecordError(err)
		return
	}

	rep := c.adapter.Handle(ctxSpan, sig)
	if rep.Failed() {
		span.RecordError(fmt.Errorf("signal %s not fully applied", sig.EventID))
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c headerCarrier) Get(key string) string {
	return headerValue(c.headers, key)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

// Set нужен только для интерфейса: заголовки входящих сообщений не меняем.
func (c headerCarrier) Set(string, string) {}

var _ propagation.TextMapCarrier = headerCarrier{}
