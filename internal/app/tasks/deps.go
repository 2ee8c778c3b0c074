// Package tasks implements the scheduled background jobs: enrichment
// reconciliation, user fact extraction and database maintenance.
package tasks

import (
	"log/slog"

	"github.com/edgard/mindjournal/internal/config"
	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/gemini"
	"github.com/edgard/mindjournal/internal/journal"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger       *slog.Logger
	Store        database.Store
	GeminiClient gemini.Client
	Journal      *journal.Service
	Targets      *journal.Targets
	Config       *config.Config
}
