package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding file values,
// e.g. MINDJOURNAL_GEMINI_API_KEY.
const EnvPrefix = "MINDJOURNAL"

// ErrConfiguration wraps every loading or validation failure.
var ErrConfiguration = errors.New("configuration error")

// LoadConfig reads defaults, then the YAML file at path (optional), then
// MINDJOURNAL_* environment variables, and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: failed to read config file %s: %w", ErrConfiguration, path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrConfiguration, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return cfg, nil
}

// Validate checks the struct tags of cfg and the cross-field rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.IsDevelopment() && cfg.Enrichment.DevURL == "" {
		return errors.New("invalid configuration: enrichment.dev_url is required in development")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("database.path", "mindjournal.db")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 0.8)
	v.SetDefault("gemini.system_instruction", DefaultSystemInstruction)
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay_seconds", 2)
	v.SetDefault("gemini.timeout", "90s")

	v.SetDefault("enrichment.url", "")
	v.SetDefault("enrichment.dev_url", "")
	v.SetDefault("enrichment.allow_dev_header", false)
	v.SetDefault("enrichment.secret", "")
	v.SetDefault("enrichment.timeout", "10s")
	v.SetDefault("enrichment.stale_after", "15m")

	v.SetDefault("chat.history_limit", 20)
	v.SetDefault("chat.journal_limit", 5)
	v.SetDefault("chat.fact_limit", 10)
	v.SetDefault("chat.activity_limit", 20)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.history_limit", 20)
	v.SetDefault("telegram.messages.welcome", "Hi! I'm your journaling companion. If your account isn't connected yet, send /link <code> with the code from the app. After that, just write to me.")
	v.SetDefault("telegram.messages.not_linked", "Please link your account first: open the app, create a Telegram link code and send /link <code> here.")
	v.SetDefault("telegram.messages.linked", "Your account is linked. You can start chatting now.")
	v.SetDefault("telegram.messages.invalid_code", "That link code is invalid or expired. Please create a new one in the app.")
	v.SetDefault("telegram.messages.cleared", "Conversation history cleared.")
	v.SetDefault("telegram.messages.fallback", "Sorry, I couldn't process that right now. Please try again later.")

	v.SetDefault("scheduler.tasks", map[string]any{
		"enrichment_reconcile": map[string]any{"enabled": true, "schedule": "0 */5 * * * *"},
		"fact_extraction":      map[string]any{"enabled": true, "schedule": "0 0 * * * *"},
		"sql_maintenance":      map[string]any{"enabled": true, "schedule": "0 0 4 * * *"},
	})
}

// DefaultSystemInstruction is the assistant persona used when none is configured.
const DefaultSystemInstruction = `You are a warm, thoughtful journaling companion. You help the user reflect on their days, notice patterns in their mood and suggest small, practical wellbeing activities. Ground your answers in the journal context and facts you are given, never invent memories, and keep replies concise and conversational.`
