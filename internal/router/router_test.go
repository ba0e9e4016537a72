package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/registry"
	"chat-relay/internal/repositories"
)

const (
	aliceID = "0190a6f2-0000-7000-8000-00000000a11c"
	bobID   = "0190a6f2-0000-7000-8000-000000000b0b"
	msgID   = "0190a6f2-0000-7000-8000-0000000000e1"
	replyID = "0190a6f2-0000-7000-8000-00000000ce01"
)

var (
	alice = models.User{ID: aliceID, Name: "Alice", Email: "alice@example.com"}
	bob   = models.User{ID: bobID, Name: "Bob", Email: "bob@example.com"}
)

type fixture struct {
	router   *Router
	reg      *registry.Registry
	messages *mocks.MessageRepositoryMock
	users    *mocks.UserRepositoryMock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	reg := registry.New()
	messages := new(mocks.MessageRepositoryMock)
	users := new(mocks.UserRepositoryMock)
	r := New(messages, users, reg, nil, zaptest.NewLogger(t))
	r.newID = func() (string, error) { return msgID, nil }
	return fixture{router: r, reg: reg, messages: messages, users: users}
}

func (f fixture) connect(userID string) *mocks.Conn {
	conn := mocks.NewConn("conn-"+userID, userID)
	f.reg.Register(userID, conn)
	return conn
}

func storedAs(msg models.Message) models.Message {
	msg.CreatedAt = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	msg.UpdatedAt = msg.CreatedAt
	return msg
}

func (f fixture) expectSend(text string) {
	f.users.On("GetUsers", mock.Anything, []string{aliceID, bobID}).Return([]models.User{alice, bob}, nil).Once()
	f.messages.On("Create", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.ID == msgID && m.Text == text && m.IsDelivered
	})).Return(storedAs(models.Message{
		ID:          msgID,
		SenderID:    aliceID,
		ReceiverID:  bobID,
		Text:        text,
		Type:        models.MessageTypeText,
		IsDelivered: true,
	}), nil).Once()
}

func TestSendMessageBothOnline(t *testing.T) {
	f := newFixture(t)
	aliceConn := f.connect(aliceID)
	bobConn := f.connect(bobID)
	f.expectSend("hi")

	details, err := f.router.SendMessage(context.Background(), SendRequest{
		SenderID:   aliceID,
		ReceiverID: bobID,
		Text:       "  hi  ",
	})
	require.NoError(t, err)
	assert.Equal(t, msgID, details.ID)
	assert.Equal(t, models.MessageTypeText, details.Type)
	assert.True(t, details.IsDelivered)
	assert.Equal(t, "Alice", details.Sender.Name)
	assert.Equal(t, "Bob", details.Receiver.Name)

	received := bobConn.EventsNamed(models.EventNewMessage)
	require.Len(t, received, 1)
	assert.Equal(t, msgID, received[0].Data.(models.MessageDetails).ID)

	sent := aliceConn.EventsNamed(models.EventMessageSent)
	require.Len(t, sent, 1)
	assert.Equal(t, msgID, sent[0].Data.(models.MessageDetails).ID)

	assert.Empty(t, aliceConn.EventsNamed(models.EventNewMessage))
	assert.Empty(t, bobConn.EventsNamed(models.EventMessageSent))
	f.messages.AssertExpectations(t)
}

func TestSendMessageReceiverOfflineThenHistory(t *testing.T) {
	f := newFixture(t)
	aliceConn := f.connect(aliceID)
	f.expectSend("hi")

	_, err := f.router.SendMessage(context.Background(), SendRequest{SenderID: aliceID, ReceiverID: bobID, Text: "hi"})
	require.NoError(t, err)
	assert.Len(t, aliceConn.EventsNamed(models.EventMessageSent), 1)

	stored := storedAs(models.Message{ID: msgID, SenderID: aliceID, ReceiverID: bobID, Text: "hi", Type: models.MessageTypeText, IsDelivered: true})
	f.messages.On("ListConversation", mock.Anything, bobID, aliceID, DefaultHistoryLimit, 0).Return([]models.Message{stored}, nil).Once()
	f.messages.On("CountConversation", mock.Anything, bobID, aliceID).Return(1, nil).Once()
	f.messages.On("MarkConversationRead", mock.Anything, bobID, aliceID).Return(int64(1), nil).Once()
	f.users.On("GetUsers", mock.Anything, []string{bobID, aliceID}).Return([]models.User{alice, bob}, nil).Once()

	page, err := f.router.History(context.Background(), bobID, aliceID, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, msgID, page.Messages[0].ID)
	assert.True(t, page.Messages[0].IsDelivered)
	assert.True(t, page.Messages[0].IsRead)
	assert.Equal(t, models.Pagination{Page: 1, Limit: DefaultHistoryLimit, Total: 1, TotalPages: 1}, page.Pagination)
	f.messages.AssertExpectations(t)
}

func TestSendMessageValidation(t *testing.T) {
	cases := map[string]SendRequest{
		"empty text":       {SenderID: aliceID, ReceiverID: bobID, Text: "   "},
		"oversized text":   {SenderID: aliceID, ReceiverID: bobID, Text: strings.Repeat("é", models.MaxMessageLength+1)},
		"bad type":         {SenderID: aliceID, ReceiverID: bobID, Text: "hi", Type: "video"},
		"self message":     {SenderID: aliceID, ReceiverID: aliceID, Text: "hi"},
		"reserved sender":  {SenderID: "system", ReceiverID: bobID, Text: "hi"},
		"nil uuid sender":  {SenderID: "00000000-0000-0000-0000-000000000000", ReceiverID: bobID, Text: "hi"},
		"bad receiver":     {SenderID: aliceID, ReceiverID: "bob", Text: "hi"},
		"bad reply target": {SenderID: aliceID, ReceiverID: bobID, Text: "hi", ReplyToID: "nope"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.router.SendMessage(context.Background(), req)
			assert.ErrorIs(t, err, ErrValidation)
			f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestSendMessageAcceptsMaxLength(t *testing.T) {
	f := newFixture(t)
	text := strings.Repeat("é", models.MaxMessageLength)
	f.expectSend(text)

	_, err := f.router.SendMessage(context.Background(), SendRequest{SenderID: aliceID, ReceiverID: bobID, Text: text})
	require.NoError(t, err)
}

func TestSendMessageUnknownReceiver(t *testing.T) {
	f := newFixture(t)
	f.users.On("GetUsers", mock.Anything, []string{aliceID, bobID}).Return([]models.User{alice}, nil).Once()

	_, err := f.router.SendMessage(context.Background(), SendRequest{SenderID: aliceID, ReceiverID: bobID, Text: "hi"})
	assert.ErrorIs(t, err, ErrValidation)
	f.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSendMessageMissingReplyTarget(t *testing.T) {
	f := newFixture(t)
	f.messages.On("GetMessage", mock.Anything, replyID).Return(nil, repositories.ErrMessageNotFound).Once()

	_, err := f.router.SendMessage(context.Background(), SendRequest{SenderID: aliceID, ReceiverID: bobID, Text: "hi", ReplyToID: replyID})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSendMessageReplyToDeletedHidesText(t *testing.T) {
	f := newFixture(t)
	bobConn := f.connect(bobID)
	target := storedAs(models.Message{ID: replyID, SenderID: bobID, ReceiverID: aliceID, Text: "secret", IsDeleted: true})
	f.messages.On("GetMessage", mock.Anything, replyID).Return(target, nil).Once()
	f.expectSend("re")

	details, err := f.router.SendMessage(context.Background(), SendRequest{SenderID: aliceID, ReceiverID: bobID, Text: "re", ReplyToID: replyID})
	require.NoError(t, err)
	require.NotNil(t, details.ReplyTo)
	assert.True(t, details.ReplyTo.IsDeleted)
	assert.Empty(t, details.ReplyTo.Text)
	assert.Len(t, bobConn.EventsNamed(models.EventNewMessage), 1)
}

func TestSendMessagePersistFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	bobConn := f.connect(bobID)
	f.users.On("GetUsers", mock.Anything, []string{aliceID, bobID}).Return([]models.User{alice, bob}, nil).Once()
	f.messages.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("disk full")).Once()

	_, err := f.router.SendMessage(context.Background(), SendRequest{SenderID: aliceID, ReceiverID: bobID, Text: "hi"})
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Empty(t, bobConn.Events())
}

func TestSendMessageSwallowsPushFailure(t *testing.T) {
	f := newFixture(t)
	bobConn := f.connect(bobID)
	bobConn.FailPushes(errors.New("queue full"))
	f.expectSend("hi")

	_, err := f.router.SendMessage(context.Background(), SendRequest{SenderID: aliceID, ReceiverID: bobID, Text: "hi"})
	require.NoError(t, err)
}

func TestMarkReadByReceiverNotifiesSender(t *testing.T) {
	f := newFixture(t)
	aliceConn := f.connect(aliceID)
	f.messages.On("MarkRead", mock.Anything, msgID, bobID).Return(aliceID, true, nil).Once()

	require.NoError(t, f.router.MarkRead(context.Background(), bobID, msgID))

	events := aliceConn.EventsNamed(models.EventMessageRead)
	require.Len(t, events, 1)
	assert.Equal(t, models.MessageReadPayload{MessageID: msgID, ReadBy: bobID}, events[0].Data)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	aliceConn := f.connect(aliceID)
	f.messages.On("MarkRead", mock.Anything, msgID, bobID).Return(aliceID, true, nil).Once()
	f.messages.On("MarkRead", mock.Anything, msgID, bobID).Return("", false, nil).Once()

	require.NoError(t, f.router.MarkRead(context.Background(), bobID, msgID))
	require.NoError(t, f.router.MarkRead(context.Background(), bobID, msgID))

	assert.Len(t, aliceConn.EventsNamed(models.EventMessageRead), 1)
	f.messages.AssertExpectations(t)
}

func TestMarkReadByNonReceiverIsIgnored(t *testing.T) {
	f := newFixture(t)
	aliceConn := f.connect(aliceID)
	f.messages.On("MarkRead", mock.Anything, msgID, aliceID).Return("", false, nil).Once()

	require.NoError(t, f.router.MarkRead(context.Background(), aliceID, msgID))
	assert.Empty(t, aliceConn.Events())
}

func TestMarkReadStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.messages.On("MarkRead", mock.Anything, msgID, bobID).Return("", false, errors.New("timeout")).Once()

	err := f.router.MarkRead(context.Background(), bobID, msgID)
	assert.ErrorIs(t, err, ErrInternal)
}

func TestMarkReadMalformedID(t *testing.T) {
	f := newFixture(t)
	err := f.router.MarkRead(context.Background(), bobID, "42")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSetTyping(t *testing.T) {
	f := newFixture(t)
	bobConn := f.connect(bobID)

	require.NoError(t, f.router.SetTyping(context.Background(), aliceID, bobID, true))
	events := bobConn.EventsNamed(models.EventUserTyping)
	require.Len(t, events, 1)
	assert.Equal(t, models.TypingPayload{UserID: aliceID, IsTyping: true}, events[0].Data)

	// offline receivers get nothing and nothing is stored
	f.reg.Unregister(bobID, bobConn)
	require.NoError(t, f.router.SetTyping(context.Background(), aliceID, bobID, false))
	assert.Len(t, bobConn.Events(), 1)
	f.messages.AssertExpectations(t)

	assert.ErrorIs(t, f.router.SetTyping(context.Background(), aliceID, "bob", true), ErrValidation)
}

func TestDeleteMessageBySender(t *testing.T) {
	f := newFixture(t)
	bobConn := f.connect(bobID)
	f.messages.On("GetMessage", mock.Anything, msgID).Return(storedAs(models.Message{ID: msgID, SenderID: aliceID, ReceiverID: bobID}), nil).Once()
	f.messages.On("MarkDeleted", mock.Anything, msgID, aliceID).Return(nil).Once()

	require.NoError(t, f.router.DeleteMessage(context.Background(), aliceID, msgID))
	assert.Empty(t, bobConn.Events())
	f.messages.AssertExpectations(t)
}

func TestDeleteMessageByOtherUserIsForbidden(t *testing.T) {
	f := newFixture(t)
	f.messages.On("GetMessage", mock.Anything, msgID).Return(storedAs(models.Message{ID: msgID, SenderID: aliceID, ReceiverID: bobID}), nil).Once()

	err := f.router.DeleteMessage(context.Background(), bobID, msgID)
	assert.ErrorIs(t, err, ErrAuthorization)
	f.messages.AssertNotCalled(t, "MarkDeleted", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteMessageNotFound(t *testing.T) {
	f := newFixture(t)
	f.messages.On("GetMessage", mock.Anything, msgID).Return(nil, repositories.ErrMessageNotFound).Once()

	assert.ErrorIs(t, f.router.DeleteMessage(context.Background(), aliceID, msgID), ErrNotFound)
	assert.ErrorIs(t, f.router.DeleteMessage(context.Background(), aliceID, "garbage"), ErrNotFound)
}

func TestDeleteMessageAlreadyDeleted(t *testing.T) {
	f := newFixture(t)
	f.messages.On("GetMessage", mock.Anything, msgID).Return(storedAs(models.Message{ID: msgID, SenderID: aliceID, IsDeleted: true}), nil).Once()

	require.NoError(t, f.router.DeleteMessage(context.Background(), aliceID, msgID))
	f.messages.AssertNotCalled(t, "MarkDeleted", mock.Anything, mock.Anything, mock.Anything)
}

func TestHistoryPagination(t *testing.T) {
	f := newFixture(t)
	f.messages.On("ListConversation", mock.Anything, aliceID, bobID, 10, 20).Return([]models.Message{}, nil).Once()
	f.messages.On("CountConversation", mock.Anything, aliceID, bobID).Return(25, nil).Once()
	f.messages.On("MarkConversationRead", mock.Anything, aliceID, bobID).Return(int64(0), nil).Once()

	page, err := f.router.History(context.Background(), aliceID, bobID, PageRequest{Page: 3, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	f.users.AssertNotCalled(t, "GetUsers", mock.Anything, mock.Anything)

	_, err = f.router.History(context.Background(), aliceID, bobID, PageRequest{Limit: MaxPageLimit + 1})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.router.History(context.Background(), aliceID, "bob", PageRequest{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHistoryExpandsReplies(t *testing.T) {
	f := newFixture(t)
	reply := replyID
	target := storedAs(models.Message{ID: replyID, SenderID: bobID, ReceiverID: aliceID, Text: "original"})
	msg := storedAs(models.Message{ID: msgID, SenderID: aliceID, ReceiverID: bobID, Text: "answer", ReplyToID: &reply})

	f.messages.On("ListConversation", mock.Anything, aliceID, bobID, DefaultHistoryLimit, 0).Return([]models.Message{target, msg}, nil).Once()
	f.messages.On("CountConversation", mock.Anything, aliceID, bobID).Return(2, nil).Once()
	f.messages.On("MarkConversationRead", mock.Anything, aliceID, bobID).Return(int64(0), nil).Once()
	f.messages.On("GetMessages", mock.Anything, []string{replyID}).Return([]models.Message{target}, nil).Once()
	f.users.On("GetUsers", mock.Anything, []string{aliceID, bobID}).Return([]models.User{alice, bob}, nil).Once()

	page, err := f.router.History(context.Background(), aliceID, bobID, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Nil(t, page.Messages[0].ReplyTo)
	require.NotNil(t, page.Messages[1].ReplyTo)
	assert.Equal(t, "original", page.Messages[1].ReplyTo.Text)
	assert.Equal(t, "Bob", page.Messages[1].Receiver.Name)
}

func TestConversationsUseRegistryForOnline(t *testing.T) {
	f := newFixture(t)
	f.connect(bobID)
	seen := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	offlineBob := bob
	offlineBob.IsOnline = false
	offlineBob.LastSeen = seen

	row := models.ConversationRow{
		CounterpartID: bobID,
		Message:       storedAs(models.Message{ID: msgID, SenderID: bobID, ReceiverID: aliceID, Text: "yo"}),
		UnreadCount:   3,
	}
	f.messages.On("ListConversations", mock.Anything, aliceID, DefaultConversationLimit, 0).Return([]models.ConversationRow{row}, nil).Once()
	f.messages.On("CountConversations", mock.Anything, aliceID).Return(1, nil).Once()
	f.users.On("GetUsers", mock.Anything, []string{bobID}).Return([]models.User{offlineBob}, nil).Once()

	page, err := f.router.Conversations(context.Background(), aliceID, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	conv := page.Conversations[0]
	assert.Equal(t, bobID, conv.User.ID)
	assert.True(t, conv.User.IsOnline)
	assert.Equal(t, seen, conv.User.LastSeen)
	assert.Equal(t, 3, conv.UnreadCount)
	assert.Equal(t, "yo", conv.LastMessage.Text)
	assert.Equal(t, 1, page.Pagination.Total)
	assert.Equal(t, 1, page.Pagination.TotalPages)
}

func TestConversationsTotalCountsAllCounterparts(t *testing.T) {
	f := newFixture(t)
	row := models.ConversationRow{
		CounterpartID: bobID,
		Message:       storedAs(models.Message{ID: msgID, SenderID: bobID, ReceiverID: aliceID, Text: "yo"}),
	}
	f.messages.On("ListConversations", mock.Anything, aliceID, 1, 2).Return([]models.ConversationRow{row}, nil).Once()
	f.messages.On("CountConversations", mock.Anything, aliceID).Return(5, nil).Once()
	f.users.On("GetUsers", mock.Anything, []string{bobID}).Return([]models.User{bob}, nil).Once()

	page, err := f.router.Conversations(context.Background(), aliceID, PageRequest{Page: 3, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, 5, page.Pagination.Total)
	assert.Equal(t, 5, page.Pagination.TotalPages)
	f.messages.AssertExpectations(t)
}

func TestNonCanonicalIDsAreNormalized(t *testing.T) {
	f := newFixture(t)
	aliceConn := f.connect(aliceID)
	bobConn := f.connect(bobID)
	f.expectSend("hi")

	_, err := f.router.SendMessage(context.Background(), SendRequest{
		SenderID:   aliceID,
		ReceiverID: strings.ToUpper(bobID),
		Text:       "hi",
	})
	require.NoError(t, err)
	assert.Len(t, bobConn.EventsNamed(models.EventNewMessage), 1)
	assert.Len(t, aliceConn.EventsNamed(models.EventMessageSent), 1)

	require.NoError(t, f.router.SetTyping(context.Background(), aliceID, "{"+strings.ToUpper(bobID)+"}", true))
	assert.Len(t, bobConn.EventsNamed(models.EventUserTyping), 1)

	err = f.router.SetTyping(context.Background(), aliceID, "urn:uuid:"+strings.ToUpper(aliceID), true)
	assert.ErrorIs(t, err, ErrValidation)

	f.users.On("GetUser", mock.Anything, bobID).Return(bob, nil).Once()
	got, err := f.router.Presence(context.Background(), strings.ToUpper(bobID))
	require.NoError(t, err)
	assert.Equal(t, bobID, got.UserID)
	assert.True(t, got.IsOnline)

	f.messages.On("MarkRead", mock.Anything, msgID, bobID).Return(aliceID, true, nil).Once()
	require.NoError(t, f.router.MarkRead(context.Background(), bobID, strings.ToUpper(msgID)))
	assert.Len(t, aliceConn.EventsNamed(models.EventMessageRead), 1)
	f.messages.AssertExpectations(t)
}

func TestPresence(t *testing.T) {
	f := newFixture(t)
	seen := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	stale := bob
	stale.IsOnline = true
	stale.LastSeen = seen
	f.users.On("GetUser", mock.Anything, bobID).Return(stale, nil)

	got, err := f.router.Presence(context.Background(), bobID)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)
	require.NotNil(t, got.LastSeen)
	assert.Equal(t, seen, *got.LastSeen)

	f.connect(bobID)
	got, err = f.router.Presence(context.Background(), bobID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)
	assert.Nil(t, got.LastSeen)

	f.users.On("GetUser", mock.Anything, aliceID).Return(nil, repositories.ErrUserNotFound)
	_, err = f.router.Presence(context.Background(), aliceID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestErrorKinds(t *testing.T) {
	err := validation("bad")
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Contains(t, internal("persist", errors.New("boom")).Error(), "boom")
}
