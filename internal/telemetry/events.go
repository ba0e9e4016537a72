package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-relay/internal/observability"
)

// Routing keys of the domain events published to the event bus.
const (
	EventMessageSent     = "chat.message.sent"
	EventMessageRead     = "chat.message.read"
	EventMessageDeleted  = "chat.message.deleted"
	EventPresenceOnline  = "presence.online"
	EventPresenceOffline = "presence.offline"
	EventWSConnect       = "ws.connect"
	EventWSDisconnect    = "ws.disconnect"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// Envelope wraps every published event.
type Envelope struct {
	SchemaVersion int     `json:"schema_version"`
	EventType     string  `json:"event_type"`
	OccurredAt    string  `json:"occurred_at"`
	Service       string  `json:"service"`
	Environment   string  `json:"environment"`
	RequestID     string  `json:"request_id,omitempty"`
	UserID        *string `json:"user_id,omitempty"`
	Payload       any     `json:"payload"`
}

// EventEmitter publishes domain events. A nil emitter is a valid no-op.
type EventEmitter struct {
	publisher   Publisher
	service     string
	environment string
	log         *zap.Logger
	now         func() time.Time
}

func NewEventEmitter(publisher Publisher, service, environment string, log *zap.Logger) *EventEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventEmitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
		log:         log,
		now:         time.Now,
	}
}

// Emit publishes payload under eventType. Failures are logged, never returned.
func (e *EventEmitter) Emit(ctx context.Context, eventType, userID string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	requestID := observability.RequestIDFromContext(ctx)
	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		Payload:       payload,
	}
	if userID != "" {
		envelope.UserID = &userID
	}

	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	headers := observability.BuildHeaders(requestID, traceID)
	if err := e.publisher.Publish(ctx, eventType, envelope, headers); err != nil {
		e.log.Warn("event publish failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
