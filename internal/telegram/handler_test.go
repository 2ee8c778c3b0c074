package telegram

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/mindjournal/internal/config"
	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/gemini"
)

const (
	testChatID   int64 = 5001
	testSenderID int64 = 7001
)

var testMessages = config.TelegramMessages{
	Welcome:     "welcome",
	NotLinked:   "not linked",
	Linked:      "linked",
	InvalidCode: "invalid code",
	Cleared:     "cleared",
	Fallback:    "fallback",
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	failNext int
}

func (f *fakeSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, params.Text)
	return &models.Message{Text: params.Text}, nil
}

func (f *fakeSender) SendChatAction(context.Context, *bot.SendChatActionParams) (bool, error) {
	return true, nil
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeReplier struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	userID  string
	history []gemini.Message
}

func (f *fakeReplier) Reply(_ context.Context, userID, _ string, history []gemini.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.userID = userID
	f.history = history
	return f.reply, f.err
}

func newTestHandler(t *testing.T, replier *fakeReplier) (*Handler, database.Store) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "telegram.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil)

	h := NewHandler(HandlerDeps{
		Store:     store,
		Replier:   replier,
		Messages:  testMessages,
		History:   20,
		AITimeout: 5 * time.Second,
	})
	return h, store
}

func textUpdate(text string) *models.Update {
	return &models.Update{
		ID: 1,
		Message: &models.Message{
			Text: text,
			Chat: models.Chat{ID: testChatID},
			From: &models.User{ID: testSenderID},
		},
	}
}

func linkSender(t *testing.T, store database.Store, userID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveLinkCode(ctx, &database.LinkCode{
		Code:      "ABC123",
		UserID:    userID,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}))
	_, err := store.ConsumeLinkCode(ctx, "ABC123", testSenderID, time.Now())
	require.NoError(t, err)
}

func TestUnlinkedSenderGetsSingleReplyWithoutAI(t *testing.T) {
	t.Parallel()
	replier := &fakeReplier{reply: "should not be used"}
	h, store := newTestHandler(t, replier)
	sender := &fakeSender{}

	h.Process(context.Background(), sender, textUpdate("hello there"))

	assert.Equal(t, []string{"not linked"}, sender.messages())
	assert.Zero(t, replier.calls)

	msgs, err := store.GetTelegramMessages(context.Background(), testChatID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStartWorksBeforeLinking(t *testing.T) {
	t.Parallel()
	replier := &fakeReplier{reply: "should not be used"}
	h, _ := newTestHandler(t, replier)
	sender := &fakeSender{}

	h.Process(context.Background(), sender, textUpdate("/start"))
	h.Process(context.Background(), sender, textUpdate("/start@mindjournal_bot"))

	assert.Equal(t, []string{"welcome", "welcome"}, sender.messages())
	assert.Zero(t, replier.calls)
}

func TestLinkCommand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, store := newTestHandler(t, &fakeReplier{})
	sender := &fakeSender{}

	require.NoError(t, store.SaveLinkCode(ctx, &database.LinkCode{
		Code:      "QWE789",
		UserID:    "u1",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}))

	h.Process(ctx, sender, textUpdate("/link qwe789"))
	h.Process(ctx, sender, textUpdate("/link QWE789"))
	h.Process(ctx, sender, textUpdate("/link"))

	assert.Equal(t, []string{"linked", "invalid code", "invalid code"}, sender.messages())

	link, err := store.GetTelegramLink(ctx, testSenderID)
	require.NoError(t, err)
	assert.Equal(t, "u1", link.UserID)
}

func TestChatReplyIsSavedWithHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	replier := &fakeReplier{reply: "Take a breath."}
	h, store := newTestHandler(t, replier)
	linkSender(t, store, "u1")
	sender := &fakeSender{}

	h.Process(ctx, sender, textUpdate("I feel anxious"))
	h.Process(ctx, sender, textUpdate("Still anxious"))

	assert.Equal(t, []string{"Take a breath.", "Take a breath."}, sender.messages())
	assert.Equal(t, 2, replier.calls)
	assert.Equal(t, "u1", replier.userID)
	require.Len(t, replier.history, 2)
	assert.Equal(t, gemini.RoleUser, replier.history[0].Role)
	assert.Equal(t, "I feel anxious", replier.history[0].Content)
	assert.Equal(t, gemini.RoleAssistant, replier.history[1].Role)

	msgs, err := store.GetTelegramMessages(ctx, testChatID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.False(t, msgs[0].IsBot)
	assert.Equal(t, testSenderID, msgs[0].SenderID)
	assert.True(t, msgs[1].IsBot)
}

func TestClearCommandEmptiesHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	replier := &fakeReplier{reply: "ok"}
	h, store := newTestHandler(t, replier)
	linkSender(t, store, "u1")
	sender := &fakeSender{}

	h.Process(ctx, sender, textUpdate("remember this"))
	h.Process(ctx, sender, textUpdate("/clear"))

	msgs, err := store.GetTelegramMessages(ctx, testChatID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, []string{"ok", "cleared"}, sender.messages())

	h.Process(ctx, sender, textUpdate("/start"))
	assert.Equal(t, "welcome", sender.messages()[2])
	assert.Equal(t, 1, replier.calls)
}

func TestLongReplyIsTruncated(t *testing.T) {
	t.Parallel()
	replier := &fakeReplier{reply: strings.Repeat("x", 5000)}
	h, store := newTestHandler(t, replier)
	linkSender(t, store, "u1")
	sender := &fakeSender{}

	h.Process(context.Background(), sender, textUpdate("tell me everything"))

	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Len(t, sent[0], MaxMessageRunes)
	assert.Equal(t, strings.Repeat("x", MaxMessageRunes-3)+"...", sent[0])
}

func TestReplyFailureSendsFallback(t *testing.T) {
	t.Parallel()
	replier := &fakeReplier{err: errors.New("model overloaded")}
	h, store := newTestHandler(t, replier)
	linkSender(t, store, "u1")
	sender := &fakeSender{}

	h.Process(context.Background(), sender, textUpdate("hello"))

	assert.Equal(t, []string{"fallback"}, sender.messages())
}

func TestSendFailureRetriesWithFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	replier := &fakeReplier{reply: "a reply"}
	h, store := newTestHandler(t, replier)
	linkSender(t, store, "u1")
	sender := &fakeSender{failNext: 1}

	h.Process(ctx, sender, textUpdate("hello"))

	assert.Equal(t, []string{"fallback"}, sender.messages())

	msgs, err := store.GetTelegramMessages(ctx, testChatID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].IsBot)
}

func TestIgnoresBotsAndEmptyText(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, &fakeReplier{})
	sender := &fakeSender{}

	fromBot := textUpdate("hi")
	fromBot.Message.From.IsBot = true
	h.Process(context.Background(), sender, fromBot)
	h.Process(context.Background(), sender, textUpdate("   "))
	h.Process(context.Background(), sender, &models.Update{ID: 2})

	assert.Empty(t, sender.messages())
}
