package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chat-relay/internal/auth"
	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/registry"
	"chat-relay/internal/router"
)

// Options tunes websocket connections.
type Options struct {
	SendBuffer       int
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	MaxMessageBytes  int64
	ActionsPerSecond float64
	ActionBurst      int
	AllowedOrigins   []string
}

// Sessions is the lifecycle the handler drives for every connection.
type Sessions interface {
	Admit(ctx context.Context, credential string) (auth.Identity, error)
	Attach(ctx context.Context, conn registry.Conn)
	Detach(ctx context.Context, conn registry.Conn) bool
}

// Handler upgrades authenticated requests and runs one task per connection
// that processes inbound actions in the order they arrive.
type Handler struct {
	sessions Sessions
	router   *router.Router
	opts     Options
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.Mutex
	live    map[*Conn]struct{}
	closing bool
	tasks   sync.WaitGroup
}

func NewHandler(sessions Sessions, r *router.Router, opts Options, log *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		router:   r,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		log:  log,
		live: make(map[*Conn]struct{}),
	}
}

// Handle admits the caller and upgrades the connection. Admission failures
// are answered with 401 before the upgrade, so nothing is registered.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-relay/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	credential := c.GetHeader("Authorization")
	if credential == "" {
		credential = c.Query("token")
	}

	identity, err := h.sessions.Admit(ctx, credential)
	if err != nil {
		span.SetStatus(codes.Error, "admission failed")
		observability.IncWSEvent("ws_rejected")
		h.log.Debug("websocket admission rejected", zap.Error(err), zap.String("ip", observability.IPFromRequest(c.Request)))
		c.JSON(http.StatusUnauthorized, gin.H{"error": admissionMessage(err)})
		return
	}
	span.SetAttributes(attribute.String("chat.user_id", identity.UserID))

	if h.isClosing() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	info := newConnInfo(c.Request, newConnID(), identity.UserID, span.SpanContext().TraceID().String())
	conn := newConn(wsConn, info, h.opts, h.log)
	h.log.Info("websocket connected", info.fields()...)

	// The connection outlives the request, so its task gets a fresh context
	// carrying only the request id.
	taskCtx := observability.WithRequestID(context.Background(), info.RequestID)

	if !h.track(conn) {
		conn.closeWith(websocket.CloseGoingAway, "server shutting down")
		conn.writeLoop()
		return
	}
	go conn.writeLoop()
	h.sessions.Attach(taskCtx, conn)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")

	go h.run(taskCtx, conn)
}

// run is the connection task. It exits when the socket fails or closes.
func (h *Handler) run(ctx context.Context, conn *Conn) {
	reason := ""
	defer func() {
		defer h.untrack(conn)
		conn.closeWith(websocket.CloseNormalClosure, "")
		h.sessions.Detach(ctx, conn)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.log.Info("websocket disconnected",
			zap.String("conn_id", conn.info.ConnID),
			zap.String("user_id", conn.info.UserID),
			zap.Duration("duration", time.Since(conn.info.ConnectedAt)),
			zap.String("reason", reason))
	}()

	conn.ws.SetReadLimit(h.opts.MaxMessageBytes)
	_ = conn.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(h.opts.ActionsPerSecond), h.opts.ActionBurst)
	for {
		msgType, frame, err := conn.ws.ReadMessage()
		if err != nil {
			reason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				select {
				case <-conn.Done():
				default:
					observability.IncWSEvent("ws_error")
				}
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		if msgType != websocket.TextMessage {
			h.reportError(conn, "", "validation", "only text frames are accepted")
			continue
		}
		if !limiter.Allow() {
			h.reportError(conn, "", "rate_limited", "too many actions, slow down")
			continue
		}
		h.dispatch(ctx, conn, frame)
	}
}

func (h *Handler) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

func (h *Handler) track(conn *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.live[conn] = struct{}{}
	h.tasks.Add(1)
	return true
}

func (h *Handler) untrack(conn *Conn) {
	h.mu.Lock()
	delete(h.live, conn)
	h.mu.Unlock()
	h.tasks.Done()
}

// Shutdown closes every live connection and waits until each task has
// detached, so offline writes land before the store goes away. New
// handshakes are refused from here on.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for conn := range h.live {
		conn.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	h.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		h.tasks.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *Conn, frame []byte) {
	action, err := ParseAction(frame)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			h.reportError(conn, perr.Action, string(router.KindValidation), perr.Message)
			return
		}
		h.reportError(conn, "", string(router.KindValidation), err.Error())
		return
	}

	userID := conn.UserID()
	switch a := action.(type) {
	case SendMessageAction:
		_, err = h.router.SendMessage(ctx, router.SendRequest{
			SenderID:   userID,
			ReceiverID: a.ReceiverID,
			Text:       a.MessageText,
			Type:       a.MessageType,
			ReplyToID:  a.ReplyToID,
		})
	case MarkReadAction:
		err = h.router.MarkRead(ctx, userID, a.MessageID)
	case TypingAction:
		err = h.router.SetTyping(ctx, userID, a.ReceiverID, a.IsTyping)
	}
	if err != nil {
		h.reportRouterError(conn, action.Name(), err)
	}
}

func (h *Handler) reportRouterError(conn *Conn, action string, err error) {
	kind := router.KindOf(err)
	msg := "internal error"
	var rerr *router.Error
	if kind != router.KindInternal && errors.As(err, &rerr) {
		msg = rerr.Message
	}
	h.reportError(conn, action, string(kind), msg)
}

func (h *Handler) reportError(conn *Conn, action, code, msg string) {
	_ = conn.Push(models.NewEvent(models.EventError, models.ErrorPayload{
		Action:  action,
		Code:    code,
		Message: msg,
	}))
}

func admissionMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissing):
		return "missing credential"
	case errors.Is(err, auth.ErrExpired):
		return "credential expired"
	case errors.Is(err, auth.ErrUnknownUser):
		return "unknown user"
	default:
		return "invalid credential"
	}
}
