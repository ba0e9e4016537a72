package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/registry"
	"chat-relay/internal/repositories"
	"chat-relay/internal/router"
)

const (
	aliceID = "0190a6f2-0000-7000-8000-00000000a11c"
	bobID   = "0190a6f2-0000-7000-8000-000000000b0b"
	msgID   = "0190a6f2-0000-7000-8000-0000000000e1"
)

type staticOnline map[string]time.Time

func (s staticOnline) OnlineUsers(context.Context) (map[string]time.Time, error) {
	return s, nil
}

type testDeps struct {
	messages *mocks.MessageRepositoryMock
	users    *mocks.UserRepositoryMock
	reg      *registry.Registry
}

func setupChatRouter(t *testing.T, online OnlineLister) (*gin.Engine, testDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	deps := testDeps{
		messages: new(mocks.MessageRepositoryMock),
		users:    new(mocks.UserRepositoryMock),
		reg:      registry.New(),
	}
	rt := router.New(deps.messages, deps.users, deps.reg, nil, zap.NewNop())
	chat := NewChatHandler(rt)
	presence := NewPresenceHandler(rt, online)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", aliceID)
		c.Next()
	})
	r.POST("/api/chat/messages", chat.SendMessage)
	r.GET("/api/chat/conversations", chat.ListConversations)
	r.GET("/api/chat/messages/:userId", chat.GetMessages)
	r.DELETE("/api/chat/messages/:messageId", chat.DeleteMessage)
	r.PUT("/api/chat/messages/:messageId/read", chat.MarkRead)
	r.GET("/api/users/:userId/presence", presence.GetPresence)
	r.GET("/api/presence/online", presence.ListOnline)
	return r, deps
}

func serve(r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageCreated(t *testing.T) {
	r, deps := setupChatRouter(t, staticOnline{})
	deps.users.On("GetUsers", mock.Anything, []string{aliceID, bobID}).
		Return([]models.User{{ID: aliceID, Name: "Alice"}, {ID: bobID, Name: "Bob"}}, nil).Once()
	deps.messages.On("Create", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.SenderID == aliceID && m.ReceiverID == bobID && m.Text == "hello"
	})).Return(models.Message{ID: msgID, SenderID: aliceID, ReceiverID: bobID, Text: "hello", Type: models.MessageTypeText, IsDelivered: true}, nil).Once()

	rec := serve(r, http.MethodPost, "/api/chat/messages", []byte(`{"receiverId":"`+bobID+`","messageText":"hello"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Message models.MessageDetails `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, msgID, resp.Message.ID)
	assert.Equal(t, "Bob", resp.Message.Receiver.Name)
	deps.messages.AssertExpectations(t)
}

func TestSendMessageBadRequest(t *testing.T) {
	r, deps := setupChatRouter(t, staticOnline{})

	rec := serve(r, http.MethodPost, "/api/chat/messages", []byte(`{"messageText":"hello"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodPost, "/api/chat/messages", []byte(`{"receiverId":"`+aliceID+`","messageText":"me"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "yourself")

	deps.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSendMessageStoreFailure(t *testing.T) {
	r, deps := setupChatRouter(t, staticOnline{})
	deps.users.On("GetUsers", mock.Anything, []string{aliceID, bobID}).Return(nil, assert.AnError).Once()

	rec := serve(r, http.MethodPost, "/api/chat/messages", []byte(`{"receiverId":"`+bobID+`","messageText":"hello"}`))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestGetMessagesPaginates(t *testing.T) {
	r, deps := setupChatRouter(t, staticOnline{})
	deps.messages.On("ListConversation", mock.Anything, aliceID, bobID, 10, 10).Return([]models.Message{}, nil).Once()
	deps.messages.On("CountConversation", mock.Anything, aliceID, bobID).Return(11, nil).Once()
	deps.messages.On("MarkConversationRead", mock.Anything, aliceID, bobID).Return(int64(0), nil).Once()

	rec := serve(r, http.MethodGet, "/api/chat/messages/"+bobID+"?page=2&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page models.HistoryPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Equal(t, models.Pagination{Page: 2, Limit: 10, Total: 11, TotalPages: 2}, page.Pagination)
	deps.messages.AssertExpectations(t)
}

func TestGetMessagesRejectsBadQuery(t *testing.T) {
	r, _ := setupChatRouter(t, staticOnline{})

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/api/chat/messages/"+bobID+"?page=zero", nil).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/api/chat/messages/"+bobID+"?limit=500", nil).Code)
}

func TestListConversations(t *testing.T) {
	r, deps := setupChatRouter(t, staticOnline{})
	row := models.ConversationRow{
		CounterpartID: bobID,
		Message:       models.Message{ID: msgID, SenderID: bobID, ReceiverID: aliceID, Text: "yo"},
		UnreadCount:   2,
	}
	deps.messages.On("ListConversations", mock.Anything, aliceID, router.DefaultConversationLimit, 0).Return([]models.ConversationRow{row}, nil).Once()
	deps.messages.On("CountConversations", mock.Anything, aliceID).Return(1, nil).Once()
	deps.users.On("GetUsers", mock.Anything, []string{bobID}).Return([]models.User{{ID: bobID, Name: "Bob"}}, nil).Once()

	rec := serve(r, http.MethodGet, "/api/chat/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page models.ConversationPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, "Bob", page.Conversations[0].User.Name)
	assert.Equal(t, 2, page.Conversations[0].UnreadCount)
}

func TestDeleteMessageStatusCodes(t *testing.T) {
	r, deps := setupChatRouter(t, staticOnline{})
	deps.messages.On("GetMessage", mock.Anything, msgID).Return(models.Message{ID: msgID, SenderID: bobID}, nil).Once()

	rec := serve(r, http.MethodDelete, "/api/chat/messages/"+msgID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	deps.messages.On("GetMessage", mock.Anything, msgID).Return(nil, repositories.ErrMessageNotFound).Once()
	rec = serve(r, http.MethodDelete, "/api/chat/messages/"+msgID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	deps.messages.On("GetMessage", mock.Anything, msgID).Return(models.Message{ID: msgID, SenderID: aliceID}, nil).Once()
	deps.messages.On("MarkDeleted", mock.Anything, msgID, aliceID).Return(nil).Once()
	rec = serve(r, http.MethodDelete, "/api/chat/messages/"+msgID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	deps.messages.AssertExpectations(t)
}

func TestMarkReadNotifiesConnectedSender(t *testing.T) {
	r, deps := setupChatRouter(t, staticOnline{})
	bob := mocks.NewConn("c-bob", bobID)
	deps.reg.Register(bobID, bob)
	deps.messages.On("MarkRead", mock.Anything, msgID, aliceID).Return(bobID, true, nil).Once()

	rec := serve(r, http.MethodPut, "/api/chat/messages/"+msgID+"/read", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, bob.EventsNamed(models.EventMessageRead), 1)
}

func TestPresenceEndpoints(t *testing.T) {
	since := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	r, deps := setupChatRouter(t, staticOnline{bobID: since, aliceID: {}})
	deps.reg.Register(bobID, mocks.NewConn("c-bob", bobID))
	deps.users.On("GetUser", mock.Anything, bobID).Return(models.User{ID: bobID}, nil).Once()

	rec := serve(r, http.MethodGet, "/api/users/"+bobID+"/presence", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"`+bobID+`","isOnline":true}`, rec.Body.String())

	rec = serve(r, http.MethodGet, "/api/users/nobody/presence", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(r, http.MethodGet, "/api/presence/online", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"users":[{"userId":"`+aliceID+`"},{"userId":"`+bobID+`","since":"2026-01-01T08:00:00Z"}]}`, rec.Body.String())
}
