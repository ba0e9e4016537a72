package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/router"
)

// OnlineLister lists users online across the cluster.
type OnlineLister interface {
	OnlineUsers(ctx context.Context) (map[string]time.Time, error)
}

// PresenceHandler serves presence queries.
type PresenceHandler struct {
	router *router.Router
	online OnlineLister
}

func NewPresenceHandler(r *router.Router, online OnlineLister) *PresenceHandler {
	return &PresenceHandler{router: r, online: online}
}

// GetPresence reports one user's online state and last-seen time.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	out, err := h.router.Presence(requestContext(c), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type onlineUser struct {
	UserID string     `json:"userId"`
	Since  *time.Time `json:"since,omitempty"`
}

// ListOnline returns every online user, ordered by id.
func (h *PresenceHandler) ListOnline(c *gin.Context) {
	online, err := h.online.OnlineUsers(requestContext(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load presence directory"})
		return
	}

	users := make([]onlineUser, 0, len(online))
	for id, since := range online {
		u := onlineUser{UserID: id}
		if !since.IsZero() {
			s := since
			u.Since = &s
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	c.JSON(http.StatusOK, gin.H{"users": users})
}
