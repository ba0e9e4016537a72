// Package session drives a connection from admission to disconnect.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chat-relay/internal/auth"
	"chat-relay/internal/observability"
	"chat-relay/internal/registry"
	"chat-relay/internal/telemetry"
)

// Admitter verifies connection credentials.
type Admitter interface {
	Admit(ctx context.Context, credential string) (auth.Identity, error)
}

// StatusStore persists the online flag and last-seen time of users.
type StatusStore interface {
	SetOnlineStatus(ctx context.Context, userID string, online bool, lastSeen time.Time) error
}

// Broadcaster announces presence transitions.
type Broadcaster interface {
	BroadcastOnline(ctx context.Context, userID string, at time.Time)
	BroadcastOffline(ctx context.Context, userID string, lastSeen time.Time)
}

// Manager owns the Admitted -> Registered -> Superseded|Disconnected
// lifecycle. Store failures are logged and never block registry or presence.
type Manager struct {
	gate     Admitter
	registry *registry.Registry
	users    StatusStore
	presence Broadcaster
	events   *telemetry.EventEmitter
	log      *zap.Logger
	now      func() time.Time
}

func NewManager(gate Admitter, reg *registry.Registry, users StatusStore, presence Broadcaster, events *telemetry.EventEmitter, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		gate:     gate,
		registry: reg,
		users:    users,
		presence: presence,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

// Admit checks the credential. Nothing is registered or written on failure.
func (m *Manager) Admit(ctx context.Context, credential string) (auth.Identity, error) {
	return m.gate.Admit(ctx, credential)
}

// Attach registers conn as its user's active connection. A connection it
// supersedes is closed; its own task will find the mapping gone on detach.
// The online broadcast is sent only when the user was offline before.
func (m *Manager) Attach(ctx context.Context, conn registry.Conn) {
	userID := conn.UserID()

	// Stamped after Register and, in Detach, before Unregister: the registry
	// lock then orders an online write after any offline write it races.
	superseded := m.registry.Register(userID, conn)
	now := m.now()
	observability.SetOnlineUsers(m.registry.Len())
	if superseded != nil {
		m.log.Info("connection superseded",
			zap.String("user_id", userID),
			zap.String("old_conn_id", superseded.ID()),
			zap.String("conn_id", conn.ID()))
		_ = superseded.Close()
		observability.IncWSEvent("superseded")
	}

	if err := m.users.SetOnlineStatus(ctx, userID, true, now); err != nil {
		m.log.Warn("failed to persist online status", zap.String("user_id", userID), zap.Error(err))
	}

	if superseded == nil {
		m.presence.BroadcastOnline(ctx, userID, now)
	}
	m.events.Emit(ctx, telemetry.EventWSConnect, userID, map[string]any{"conn_id": conn.ID()})
}

// Detach removes conn if it is still registered and announces the user
// offline. It reports whether the connection was the active one.
func (m *Manager) Detach(ctx context.Context, conn registry.Conn) bool {
	userID := conn.UserID()
	now := m.now()
	if !m.registry.Unregister(userID, conn) {
		m.log.Debug("detach of inactive connection ignored", zap.String("user_id", userID), zap.String("conn_id", conn.ID()))
		return false
	}
	observability.SetOnlineUsers(m.registry.Len())

	if err := m.users.SetOnlineStatus(ctx, userID, false, now); err != nil {
		m.log.Warn("failed to persist offline status", zap.String("user_id", userID), zap.Error(err))
	}
	m.presence.BroadcastOffline(ctx, userID, now)
	m.events.Emit(ctx, telemetry.EventWSDisconnect, userID, map[string]any{"conn_id": conn.ID()})
	return true
}
