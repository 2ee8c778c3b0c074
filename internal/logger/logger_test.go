package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestGinMiddlewareLogsStatus(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	log := newLogger(&buf, "debug", true)

	r := gin.New()
	r.Use(GinMiddleware(log))
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "/missing", record["path"])
	assert.EqualValues(t, http.StatusNotFound, record["status"])
}

func TestUpdateAttrs(t *testing.T) {
	t.Parallel()

	attrs := UpdateAttrs(&models.Update{
		ID: 10,
		Message: &models.Message{
			ID:   5,
			Chat: models.Chat{ID: 42},
			From: &models.User{ID: 7},
			Text: "hello",
		},
	})
	assert.Contains(t, attrs, "message")
	assert.Contains(t, attrs, int64(42))
	assert.Contains(t, attrs, int64(7))

	assert.Equal(t, []any{"update_id", int64(3), "update_type", "other"}, UpdateAttrs(&models.Update{ID: 3}))
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcd...", truncateString("abcdefghij", 7))
	assert.Equal(t, "héll...", truncateString("héllo wörld", 7))
}
