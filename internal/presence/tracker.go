// Package presence fans out online/offline transitions to every connected user.
package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/registry"
	"chat-relay/internal/telemetry"
)

// Tracker broadcasts presence transitions. Delivery is best effort: there is
// no retry and no queue for connections that cannot take the event.
type Tracker struct {
	registry  *registry.Registry
	directory Directory
	events    *telemetry.EventEmitter
	log       *zap.Logger
}

func NewTracker(reg *registry.Registry, directory Directory, events *telemetry.EventEmitter, log *zap.Logger) *Tracker {
	if directory == nil {
		directory = NopDirectory{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{registry: reg, directory: directory, events: events, log: log}
}

// BroadcastOnline announces userID to every registered connection, its own included.
func (t *Tracker) BroadcastOnline(ctx context.Context, userID string, at time.Time) {
	if err := t.directory.MarkOnline(ctx, userID, at); err != nil {
		t.log.Warn("presence directory update failed", zap.String("user_id", userID), zap.Error(err))
	}
	t.fanOut(models.NewEvent(models.EventUserOnline, models.PresencePayload{
		UserID:   userID,
		IsOnline: true,
	}))
	t.events.Emit(ctx, telemetry.EventPresenceOnline, userID, map[string]any{"occurred_at": at.UTC()})
}

// BroadcastOffline announces that userID left at lastSeen.
func (t *Tracker) BroadcastOffline(ctx context.Context, userID string, lastSeen time.Time) {
	if err := t.directory.MarkOffline(ctx, userID); err != nil {
		t.log.Warn("presence directory update failed", zap.String("user_id", userID), zap.Error(err))
	}
	seen := lastSeen.UTC()
	t.fanOut(models.NewEvent(models.EventUserOffline, models.PresencePayload{
		UserID:   userID,
		IsOnline: false,
		LastSeen: &seen,
	}))
	t.events.Emit(ctx, telemetry.EventPresenceOffline, userID, map[string]any{"last_seen": seen})
}

// OnlineUsers lists users online anywhere in the cluster. Without a
// directory it falls back to this instance's registry.
func (t *Tracker) OnlineUsers(ctx context.Context) (map[string]time.Time, error) {
	if _, local := t.directory.(NopDirectory); !local {
		return t.directory.OnlineUsers(ctx)
	}
	out := make(map[string]time.Time)
	for _, conn := range t.registry.Snapshot() {
		out[conn.UserID()] = time.Time{}
	}
	return out, nil
}

func (t *Tracker) fanOut(event models.Event) {
	conns := t.registry.Snapshot()
	for _, conn := range conns {
		if err := conn.Push(event); err != nil {
			observability.ObservePush(event.Event, "failed")
			t.log.Debug("presence push failed",
				zap.String("event", event.Event),
				zap.String("conn_id", conn.ID()),
				zap.Error(err))
			continue
		}
		observability.ObservePush(event.Event, "delivered")
	}
	t.log.Debug("presence broadcast", zap.String("event", event.Event), zap.Int("recipients", len(conns)))
}
