package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/gemini"
	"github.com/edgard/mindjournal/internal/logger"
)

// ErrInvalidEntry is returned when a new entry lacks required fields.
var ErrInvalidEntry = errors.New("invalid journal entry")

// EntryDispatcher delivers entries to the enrichment service without blocking.
type EntryDispatcher interface {
	Dispatch(ctx context.Context, entry *database.JournalEntry, target Target)
}

// NewEntry is the user input for a journal entry.
type NewEntry struct {
	UserID   string
	Title    string
	Content  string
	Location *string
}

// WebhookResult is the enrichment delivered by the processing service.
type WebhookResult struct {
	EntryID   string   `json:"entry_id"  binding:"required"`
	Summary   string   `json:"summary"`
	MoodTags  []string `json:"mood_tags"`
	Keywords  []string `json:"keywords"`
	Sentences []string `json:"sentences"`
}

// Service runs the journal ingestion pipeline.
type Service struct {
	store      database.Store
	ai         gemini.Client
	dispatcher EntryDispatcher
	log        *slog.Logger
	now        func() time.Time
}

// NewService creates a journal service.
func NewService(store database.Store, ai gemini.Client, dispatcher EntryDispatcher, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		store:      store,
		ai:         ai,
		dispatcher: dispatcher,
		log:        log.With("component", "journal_service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// GenerateTags asks the model for tags and parses them. Failures are logged
// and produce the empty fallback result.
func (s *Service) GenerateTags(ctx context.Context, content string) TagResult {
	raw, err := s.ai.GenerateTags(ctx, content)
	if err != nil {
		s.log.WarnContext(ctx, "Tag generation failed, continuing without tags", "error", err)
		return fallbackTags()
	}

	result := ParseTags(raw)
	if !result.OK {
		s.log.WarnContext(ctx, "Tag generator returned malformed output, continuing without tags", "raw", raw)
	}
	return result
}

// Create tags the entry, stores it in the processing state and dispatches
// enrichment. It returns as soon as the row is stored.
func (s *Service) Create(ctx context.Context, in NewEntry, target Target) (*database.JournalEntry, error) {
	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	if in.UserID == "" || content == "" {
		return nil, fmt.Errorf("%w: user and content are required", ErrInvalidEntry)
	}

	tags := s.GenerateTags(ctx, content)

	entry := &database.JournalEntry{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		Title:        title,
		Content:      content,
		Tags:         database.StringList(tags.Tags),
		IsProcessing: true,
		Location:     in.Location,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateJournalEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to store journal entry: %w", err)
	}

	s.dispatcher.Dispatch(ctx, entry, target)

	s.log.InfoContext(ctx, "Journal entry created", "entry_id", entry.ID, "user_id", entry.UserID, "tags", len(entry.Tags))
	return entry, nil
}

// List returns the user's entries, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*database.JournalEntry, error) {
	entries, err := s.store.ListJournalEntries(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	return entries, nil
}

// Finalize applies the webhook result with a single update. An unknown entry
// returns database.ErrNotFound. A repeated call overwrites the previous result.
func (s *Service) Finalize(ctx context.Context, result WebhookResult) error {
	existing, err := s.store.GetJournalEntry(ctx, result.EntryID)
	if err != nil {
		return err
	}
	if !existing.IsProcessing {
		s.log.WarnContext(ctx, "Journal entry already finalized, overwriting enrichment", "entry_id", result.EntryID)
	}

	err = s.store.FinalizeJournalEntry(ctx, result.EntryID, database.Enrichment{
		Summary:   strings.TrimSpace(result.Summary),
		MoodTags:  result.MoodTags,
		Keywords:  result.Keywords,
		Sentences: result.Sentences,
	})
	if err != nil {
		return err
	}

	s.log.InfoContext(ctx, "Journal entry finalized", "entry_id", result.EntryID, "mood_tags", len(result.MoodTags))
	return nil
}

// Redispatch sends entries still processing after staleAfter back to the
// enrichment service and returns how many were dispatched.
func (s *Service) Redispatch(ctx context.Context, staleAfter time.Duration, target Target, limit int) (int, error) {
	entries, err := s.store.ListStaleProcessingEntries(ctx, s.now().Add(-staleAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale entries: %w", err)
	}
	for _, entry := range entries {
		s.dispatcher.Dispatch(ctx, entry, target)
	}
	return len(entries), nil
}
