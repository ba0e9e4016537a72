package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/models"
	"chat-relay/internal/router"
)

// ChatHandler exposes the router over HTTP for clients that are not, or
// not yet, connected over the websocket.
type ChatHandler struct {
	router *router.Router
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(r *router.Router) *ChatHandler {
	return &ChatHandler{router: r}
}

type sendMessageRequest struct {
	ReceiverID  string             `json:"receiverId" binding:"required"`
	MessageText string             `json:"messageText" binding:"required"`
	MessageType models.MessageType `json:"messageType"`
	ReplyToID   string             `json:"replyToId"`
}

// SendMessage takes the same path as a websocket send_message action.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	details, err := h.router.SendMessage(requestContext(c), router.SendRequest{
		SenderID:   userIDFromContext(c),
		ReceiverID: req.ReceiverID,
		Text:       req.MessageText,
		Type:       req.MessageType,
		ReplyToID:  req.ReplyToID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": details})
}

// ListConversations returns the caller's conversations, newest first.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	out, err := h.router.Conversations(requestContext(c), userIDFromContext(c), page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetMessages returns the conversation with :userId and marks what the
// caller received in it as read.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	out, err := h.router.History(requestContext(c), userIDFromContext(c), c.Param("userId"), page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// DeleteMessage soft-deletes a message sent by the caller.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	if err := h.router.DeleteMessage(requestContext(c), userIDFromContext(c), c.Param("messageId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkRead marks a received message read, notifying its sender.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	if err := h.router.MarkRead(requestContext(c), userIDFromContext(c), c.Param("messageId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pageFromQuery(c *gin.Context) (router.PageRequest, bool) {
	var page router.PageRequest
	for key, dst := range map[string]*int{"page": &page.Page, "limit": &page.Limit} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
			return page, false
		}
		*dst = n
	}
	return page, true
}

func writeError(c *gin.Context, err error) {
	var rerr *router.Error
	msg := "internal error"
	if errors.As(err, &rerr) && rerr.Kind != router.KindInternal {
		msg = rerr.Message
	}

	switch router.KindOf(err) {
	case router.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
	case router.KindAuthorization:
		c.JSON(http.StatusForbidden, gin.H{"error": msg})
	case router.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": msg})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
