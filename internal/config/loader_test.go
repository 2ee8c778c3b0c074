package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MINDJOURNAL_AUTH_JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("MINDJOURNAL_GEMINI_API_KEY", "test-key")
	t.Setenv("MINDJOURNAL_ENRICHMENT_URL", "https://processor.example.com/process")
	t.Setenv("MINDJOURNAL_TELEGRAM_TOKEN", "123456:ABCDEF")
}

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Enrichment.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.Enrichment.StaleAfter)
	assert.Equal(t, "test-key", cfg.Gemini.APIKey)
	assert.NotEmpty(t, cfg.Telegram.Messages.NotLinked)
	require.Contains(t, cfg.Scheduler.Tasks, "enrichment_reconcile")
	assert.True(t, cfg.Scheduler.Tasks["sql_maintenance"].Enabled)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
environment: development
public_base_url: https://journal.example.com
logger:
  level: debug
  json: true
enrichment:
  dev_url: http://localhost:9000/process
  allow_dev_header: true
chat:
  journal_limit: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "https://journal.example.com", cfg.PublicBaseURL)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.True(t, cfg.Logger.JSON)
	assert.True(t, cfg.Enrichment.AllowDevHeader)
	assert.Equal(t, 3, cfg.Chat.JournalLimit)
	assert.Equal(t, 20, cfg.Chat.HistoryLimit)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing jwt secret", env: map[string]string{"MINDJOURNAL_AUTH_JWT_SECRET": ""}},
		{name: "short jwt secret", env: map[string]string{"MINDJOURNAL_AUTH_JWT_SECRET": "short"}},
		{name: "invalid enrichment url", env: map[string]string{"MINDJOURNAL_ENRICHMENT_URL": "not a url"}},
		{name: "unknown log level", env: map[string]string{"MINDJOURNAL_LOGGER_LEVEL": "verbose"}},
		{name: "development without dev url", env: map[string]string{"MINDJOURNAL_ENVIRONMENT": "development"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}
