// Package router validates client actions, persists their effects and pushes
// the resulting events to whichever participants are connected.
package router

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/registry"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

// Router is safe for concurrent use by every connection task.
type Router struct {
	messages repositories.MessageRepository
	users    repositories.UserRepository
	registry *registry.Registry
	events   *telemetry.EventEmitter
	log      *zap.Logger
	tracer   trace.Tracer
	newID    func() (string, error)
}

func New(messages repositories.MessageRepository, users repositories.UserRepository, reg *registry.Registry, events *telemetry.EventEmitter, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		messages: messages,
		users:    users,
		registry: reg,
		events:   events,
		log:      log,
		tracer:   otel.Tracer("chat-relay/router"),
		newID:    newMessageID,
	}
}

// push delivers event to userID's connection if there is one. A miss is not
// an error; the recipient reads the state from history later.
func (r *Router) push(userID string, event models.Event) bool {
	conn, ok := r.registry.Lookup(userID)
	if !ok {
		observability.ObservePush(event.Event, "offline")
		r.log.Debug("recipient offline", zap.String("event", event.Event), zap.String("user_id", userID))
		return false
	}
	if err := conn.Push(event); err != nil {
		observability.ObservePush(event.Event, "failed")
		r.log.Debug("push failed",
			zap.String("event", event.Event),
			zap.String("user_id", userID),
			zap.String("conn_id", conn.ID()),
			zap.Error(err))
		return false
	}
	observability.ObservePush(event.Event, "delivered")
	return true
}

func (r *Router) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "router."+op)
}

// finish records the outcome of op on its span and metrics and returns err unchanged.
func (r *Router) finish(span trace.Span, op string, err error) error {
	defer span.End()
	if err == nil {
		observability.ObserveAction(op, "ok")
		return nil
	}
	kind := KindOf(err)
	observability.ObserveAction(op, string(kind))
	if kind == KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Error("action failed", zap.String("action", op), zap.Error(err))
	}
	return err
}
