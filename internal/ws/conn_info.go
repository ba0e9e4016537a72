package ws

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"chat-relay/internal/observability"
)

// ConnInfo describes where a connection came from.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnInfo(r *http.Request, connID, userID, traceID string) ConnInfo {
	meta := observability.RequestMetaFromRequest(r)
	return ConnInfo{
		ConnID:      connID,
		UserID:      userID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

func (i ConnInfo) fields() []zap.Field {
	return []zap.Field{
		zap.String("conn_id", i.ConnID),
		zap.String("user_id", i.UserID),
		zap.String("device_id", i.DeviceID),
		zap.String("ip", i.IP),
		zap.String("request_id", i.RequestID),
		zap.String("trace_id", i.TraceID),
	}
}
