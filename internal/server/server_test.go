package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/mindjournal/internal/chat"
	"github.com/edgard/mindjournal/internal/config"
	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/gemini/geminitest"
	"github.com/edgard/mindjournal/internal/journal"
)

const testSecret = "test-secret-0123456789"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type recordingDispatcher struct {
	mu      sync.Mutex
	targets []journal.Target
}

func (r *recordingDispatcher) Dispatch(_ context.Context, _ *database.JournalEntry, target journal.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
}

type recordingProcessor struct {
	mu      sync.Mutex
	updates []*models.Update
}

func (r *recordingProcessor) ProcessUpdate(_ context.Context, update *models.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

type testEnv struct {
	server     *Server
	store      database.Store
	ai         *geminitest.Fake
	dispatcher *recordingDispatcher
	telegram   *recordingProcessor
	cfg        *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil)

	cfg := &config.Config{
		Environment: "production",
		Server:      config.ServerConfig{AllowedOrigins: []string{"https://app.example.com"}},
		Auth:        config.AuthConfig{JWTSecret: testSecret},
		Gemini:      config.GeminiConfig{Timeout: 5 * time.Second},
		Enrichment: config.EnrichmentConfig{
			URL:            "https://processor.example.com/process",
			DevURL:         "https://dev-processor.example.com/process",
			AllowDevHeader: true,
			Secret:         "hook-secret",
		},
		Telegram: config.TelegramConfig{WebhookSecret: "tg-secret"},
	}

	ai := &geminitest.Fake{TagsOutput: `["work"]`}
	dispatcher := &recordingDispatcher{}
	processor := &recordingProcessor{}

	srv := New(Deps{
		Config:   cfg,
		Store:    store,
		Journal:  journal.NewService(store, ai, dispatcher, nil),
		Targets:  journal.NewTargets(cfg),
		Chat:     chat.NewService(store, ai, chat.Limits{Journal: 5, Activities: 10, Facts: 10, History: 20}, nil),
		Telegram: processor,
	})
	return &testEnv{server: srv, store: store, ai: ai, dispatcher: dispatcher, telegram: processor, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := SignToken(testSecret, userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/journal", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing bearer token", decodeError(t, rec))

	rec = env.do(t, http.MethodGet, "/journal", "", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := SignToken("another-secret-0123456789", "u1", time.Hour)
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/journal", "", nil, map[string]string{"Authorization": "Bearer " + other})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndListJournal(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/journal", "u1", map[string]any{"title": "Monday", "content": "Busy at work"}, map[string]string{
		"X-Forwarded-Proto": "https",
		"X-Forwarded-Host":  "app.example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "processing", created["status"])
	assert.Equal(t, true, created["is_processing"])
	assert.Equal(t, []any{"work"}, created["tags"])
	assert.Nil(t, created["summary"])

	require.Len(t, env.dispatcher.targets, 1)
	assert.Equal(t, "https://processor.example.com/process", env.dispatcher.targets[0].URL)
	assert.Equal(t, "https://app.example.com/journal/webhook", env.dispatcher.targets[0].CallbackURL)

	rec = env.do(t, http.MethodPost, "/journal", "u1", map[string]any{"content": "Dev entry"}, map[string]string{journal.DevModeHeader: "true"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "https://dev-processor.example.com/process", env.dispatcher.targets[1].URL)

	rec = env.do(t, http.MethodGet, "/journal", "u1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private, max-age=30, stale-while-revalidate=60", rec.Header().Get("Cache-Control"))

	var entries []database.JournalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.ElementsMatch(t, []string{"Busy at work", "Dev entry"}, []string{entries[0].Content, entries[1].Content})

	rec = env.do(t, http.MethodGet, "/journal", "u2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCreateJournalRejectsBadBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/journal", "u1", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/journal", "u1", map[string]any{"title": "only a title"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decodeError(t, rec))
	assert.Empty(t, env.dispatcher.targets)
}

func TestJournalWebhook(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	headers := map[string]string{journal.SecretHeader: "hook-secret"}

	rec := env.do(t, http.MethodPost, "/journal", "u1", map[string]any{"content": "Slept badly"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created database.JournalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	payload := map[string]any{
		"entry_id":  created.ID,
		"summary":   "Poor sleep",
		"mood_tags": []string{"tired"},
		"keywords":  []string{"sleep"},
	}

	rec = env.do(t, http.MethodPost, "/journal/webhook", "", payload, map[string]string{journal.SecretHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/journal/webhook", "", payload, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	entry, err := env.store.GetJournalEntry(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, entry.IsProcessing)
	require.NotNil(t, entry.Summary)
	assert.Equal(t, "Poor sleep", *entry.Summary)
	assert.Equal(t, database.StringList{"tired"}, entry.MoodTags)

	payload["entry_id"] = "missing"
	rec = env.do(t, http.MethodPost, "/journal/webhook", "", payload, headers)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/journal/webhook", "", map[string]any{"summary": "no id"}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func parseEvents(t *testing.T, body string) []chatEvent {
	t.Helper()
	var events []chatEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		require.True(t, strings.HasPrefix(block, "data: "), block)
		var ev chatEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChatStreamMatchesStoredReply(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.ai.Chunks = []string{"It sounds ", "like a lot. ", "Want to talk?"}

	rec := env.do(t, http.MethodPost, "/chat", "u1", map[string]any{"message": "Work is overwhelming"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 4)

	var streamed strings.Builder
	for _, ev := range events[:3] {
		assert.False(t, ev.Done)
		streamed.WriteString(ev.Text)
	}
	last := events[3]
	assert.True(t, last.Done)
	assert.Empty(t, last.Text)
	assert.Empty(t, last.Error)

	chatID := last.ChatID
	require.NotEmpty(t, chatID)

	messages, err := env.store.GetChatMessages(context.Background(), chatID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Work is overwhelming", messages[0].Content)
	assert.Equal(t, streamed.String(), messages[1].Content)

	rec = env.do(t, http.MethodPost, "/chat", "u1", map[string]any{"message": "Thanks", "chatId": chatID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages, err = env.store.GetChatMessages(context.Background(), chatID, 10)
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestChatStreamErrorEvent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.ai.StreamErr = errors.New("quota exceeded")

	rec := env.do(t, http.MethodPost, "/chat", "u1", map[string]any{"message": "hello"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.True(t, events[0].Done)
	assert.Equal(t, "failed to generate reply", events[0].Error)
}

func TestChatRejectsBadRequests(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/chat", "u1", map[string]any{"message": "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/chat", "u1", map[string]any{"message": "hi", "chatId": "missing"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, env.ai.Calls())
}

func TestChatHistoryEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.ai.Chunks = []string{"Hi!"}

	rec := env.do(t, http.MethodPost, "/chat", "u1", map[string]any{"message": "hello"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := parseEvents(t, rec.Body.String())
	chatID := events[len(events)-1].ChatID

	rec = env.do(t, http.MethodGet, "/chat", "u1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chats []database.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, chatID, chats[0].ID)

	rec = env.do(t, http.MethodGet, "/chat/"+chatID+"/messages", "u1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var messages []database.ChatMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, database.RoleAssistant, messages[1].Role)

	rec = env.do(t, http.MethodGet, "/chat/"+chatID+"/messages", "u2", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodDelete, "/chat/"+chatID, "u2", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/chat/"+chatID, "u1", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/chat/"+chatID+"/messages", "u1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTelegramWebhookAlwaysOK(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	update := map[string]any{
		"update_id": 10,
		"message": map[string]any{
			"message_id": 1,
			"date":       1700000000,
			"text":       "hello",
			"chat":       map[string]any{"id": 42, "type": "private"},
			"from":       map[string]any{"id": 7, "is_bot": false, "first_name": "Sam"},
		},
	}

	rec := env.do(t, http.MethodPost, "/telegram-webhook", "", update, map[string]string{telegramSecretHeader: "wrong"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.telegram.updates)

	rec = env.do(t, http.MethodPost, "/telegram-webhook", "", "garbage", map[string]string{telegramSecretHeader: "tg-secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.telegram.updates)

	rec = env.do(t, http.MethodPost, "/telegram-webhook", "", update, map[string]string{telegramSecretHeader: "tg-secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	env.server.Wait()
	require.Len(t, env.telegram.updates, 1)
	assert.Equal(t, int64(42), env.telegram.updates[0].Message.Chat.ID)
	assert.Equal(t, "hello", env.telegram.updates[0].Message.Text)
}

// blockingProcessor holds every update until release is closed.
type blockingProcessor struct {
	release chan struct{}
	ctxErr  chan error
}

func (b *blockingProcessor) ProcessUpdate(ctx context.Context, _ *models.Update) {
	<-b.release
	b.ctxErr <- ctx.Err()
}

func TestTelegramWebhookAnswersBeforeProcessing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	processor := &blockingProcessor{release: make(chan struct{}), ctxErr: make(chan error, 1)}
	env.server.deps.Telegram = processor

	update := map[string]any{
		"update_id": 11,
		"message": map[string]any{
			"message_id": 2,
			"date":       1700000000,
			"text":       "slow one",
			"chat":       map[string]any{"id": 42, "type": "private"},
			"from":       map[string]any{"id": 7, "is_bot": false, "first_name": "Sam"},
		},
	}
	rec := env.do(t, http.MethodPost, "/telegram-webhook", "", update, map[string]string{telegramSecretHeader: "tg-secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	close(processor.release)
	env.server.Wait()
	assert.NoError(t, <-processor.ctxErr)
}

func TestLinkCodeIssue(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/telegram/link-code", "u1", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var code database.LinkCode
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &code))
	assert.Len(t, code.Code, linkCodeLength)
	assert.WithinDuration(t, time.Now().Add(linkCodeTTL), code.ExpiresAt, time.Minute)

	link, err := env.store.ConsumeLinkCode(context.Background(), code.Code, 99, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "u1", link.UserID)
}

func TestCORS(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://app.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = preflight("https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNormalizeToken(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", normalizeToken("Bearer abc"))
	assert.Equal(t, "abc", normalizeToken("  bearer   abc "))
	assert.Equal(t, "abc", normalizeToken("abc"))
	assert.Empty(t, normalizeToken(""))
}
