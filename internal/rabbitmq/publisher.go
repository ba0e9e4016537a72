package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chat-relay/internal/observability"
	"chat-relay/internal/telemetry"
)

// ErrConnectionLost is returned once the broker has closed the channel.
var ErrConnectionLost = errors.New("rabbitmq: connection lost")

// Publisher publishes domain events to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// NewPublisher connects to the broker and declares exchange. Any failure, or
// an empty URL, yields a publisher that only logs so the relay keeps running
// without a broker.
func NewPublisher(amqpURL, exchange string, log *zap.Logger) Publisher {
	if amqpURL == "" {
		return newNoop("empty amqp url", log)
	}

	conn, ch, err := dial(amqpURL, exchange)
	if err != nil {
		return newNoop(err.Error(), log)
	}

	p := &amqpPublisher{conn: conn, ch: ch, exchange: exchange, log: log}
	go p.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))
	log.Info("rabbitmq connected", zap.String("exchange", exchange))
	return p
}

func dial(amqpURL, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	// durable, not auto-deleted, not internal, wait for confirmation
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger

	mu   sync.Mutex
	lost bool
}

func (p *amqpPublisher) watch(closed <-chan *amqp.Error) {
	reason, ok := <-closed
	if !ok {
		return
	}
	p.mu.Lock()
	p.lost = true
	p.mu.Unlock()
	p.log.Error("rabbitmq channel closed by broker", zap.String("reason", reason.Reason), zap.Int("code", reason.Code))
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", routingKey, err)
	}

	table := make(amqp.Table, len(headers))
	for key, value := range headers {
		table[key] = value
	}
	msg := amqp.Publishing{
		MessageId:    uuid.NewString(),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      table,
		Body:         body,
	}

	p.mu.Lock()
	if p.lost {
		p.mu.Unlock()
		observability.IncAMQPPublishError()
		return ErrConnectionLost
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	p.mu.Unlock()

	if err != nil {
		observability.IncAMQPPublishError()
		p.log.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}

type noopPublisher struct {
	reason string
	log    *zap.Logger
}

func newNoop(reason string, log *zap.Logger) noopPublisher {
	log.Warn("rabbitmq disabled, events are logged only", zap.String("reason", reason))
	return noopPublisher{reason: reason, log: log}
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, event any, _ map[string]string) error {
	fields := []zap.Field{zap.String("routing_key", routingKey)}
	if envelope, ok := event.(telemetry.Envelope); ok {
		fields = append(fields, zap.String("event_type", envelope.EventType), zap.Stringp("user_id", envelope.UserID))
	}
	p.log.Debug("rabbitmq noop publish", fields...)
	return nil
}

func (noopPublisher) Close() error { return nil }

// PublisherMode reports "amqp" or "noop" for startup logs.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	if noop, ok := p.(noopPublisher); ok {
		return noop.reason
	}
	return ""
}
