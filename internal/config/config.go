// Package config loads and validates the application configuration from a YAML
// file, MINDJOURNAL_* environment variables and built-in defaults.
package config

import (
	"time"
)

// Config is the root application configuration.
type Config struct {
	Environment   string `mapstructure:"environment"     validate:"oneof=development production"`
	PublicBaseURL string `mapstructure:"public_base_url" validate:"omitempty,url"`

	Logger     LoggerConfig     `mapstructure:"logger"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoggerConfig controls log verbosity and format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig points at the SQLite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"                validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"min=1s"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"    validate:"min=1s"`
	// AllowedOrigins lists browser origins allowed by CORS. Empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"dive,url"`
}

// AuthConfig holds the secret used to verify bearer tokens.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=16"`
}

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey            string        `mapstructure:"api_key"             validate:"required"`
	ModelName         string        `mapstructure:"model_name"          validate:"required"`
	Temperature       float32       `mapstructure:"temperature"         validate:"min=0,max=2"`
	SystemInstruction string        `mapstructure:"system_instruction"  validate:"required"`
	MaxRetries        int           `mapstructure:"max_retries"         validate:"min=0,max=5"`
	RetryDelaySeconds int           `mapstructure:"retry_delay_seconds" validate:"min=0,max=60"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"min=1s,max=10m"`
}

// EnrichmentConfig configures dispatch to the external processing service.
type EnrichmentConfig struct {
	URL            string        `mapstructure:"url"              validate:"required,url"`
	DevURL         string        `mapstructure:"dev_url"          validate:"omitempty,url"`
	AllowDevHeader bool          `mapstructure:"allow_dev_header"`
	Secret         string        `mapstructure:"secret"`
	Timeout        time.Duration `mapstructure:"timeout"          validate:"min=1s,max=1m"`
	StaleAfter     time.Duration `mapstructure:"stale_after"      validate:"min=1m"`
}

// ChatConfig bounds how much context is fed to the model.
type ChatConfig struct {
	HistoryLimit  int `mapstructure:"history_limit"  validate:"min=1,max=200"`
	JournalLimit  int `mapstructure:"journal_limit"  validate:"min=1,max=50"`
	FactLimit     int `mapstructure:"fact_limit"     validate:"min=1,max=100"`
	ActivityLimit int `mapstructure:"activity_limit" validate:"min=1,max=200"`
}

// TelegramConfig configures the Telegram bot.
type TelegramConfig struct {
	Token         string           `mapstructure:"token"          validate:"required"`
	WebhookSecret string           `mapstructure:"webhook_secret"`
	HistoryLimit  int              `mapstructure:"history_limit"  validate:"min=1,max=200"`
	Messages      TelegramMessages `mapstructure:"messages"`
}

// TelegramMessages holds the fixed texts the bot replies with.
type TelegramMessages struct {
	Welcome     string `mapstructure:"welcome"      validate:"required"`
	NotLinked   string `mapstructure:"not_linked"   validate:"required"`
	Linked      string `mapstructure:"linked"       validate:"required"`
	InvalidCode string `mapstructure:"invalid_code" validate:"required"`
	Cleared     string `mapstructure:"cleared"      validate:"required"`
	Fallback    string `mapstructure:"fallback"     validate:"required"`
}

// SchedulerConfig lists the scheduled tasks.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig configures one scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}
