package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const journalColumns = `id, user_id, title, content, summary, mood_tags, keywords, sentences, tags,
        is_processing, location, created_at, updated_at`

// CreateJournalEntry inserts a new entry. CreatedAt/UpdatedAt are set when zero.
func (s *sqlxStore) CreateJournalEntry(ctx context.Context, entry *JournalEntry) error {
	if entry == nil {
		return fmt.Errorf("cannot save nil journal entry")
	}
	if entry.ID == "" || entry.UserID == "" {
		return fmt.Errorf("journal entry must have an id and a user_id")
	}
	if entry.Tags == nil {
		entry.Tags = StringList{}
	}

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.CreatedAt

	query := `
        INSERT INTO journal_entries (` + journalColumns + `)
        VALUES (:id, :user_id, :title, :content, :summary, :mood_tags, :keywords, :sentences, :tags,
            :is_processing, :location, :created_at, :updated_at);
    `
	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		s.logger.ErrorContext(ctx, "Error saving journal entry", "entry_id", entry.ID, "user_id", entry.UserID, "error", err)
		return fmt.Errorf("failed to save journal entry %s: %w", entry.ID, err)
	}

	s.logger.DebugContext(ctx, "Journal entry saved", "entry_id", entry.ID, "user_id", entry.UserID)
	return nil
}

// GetJournalEntry retrieves an entry by ID.
func (s *sqlxStore) GetJournalEntry(ctx context.Context, id string) (*JournalEntry, error) {
	var entry JournalEntry
	query := `SELECT ` + journalColumns + ` FROM journal_entries WHERE id = ?;`
	if err := s.db.GetContext(ctx, &entry, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get journal entry %s: %w", id, err)
	}
	return &entry, nil
}

// ListJournalEntries returns the user's most recent entries, newest first.
func (s *sqlxStore) ListJournalEntries(ctx context.Context, userID string, limit int) ([]*JournalEntry, error) {
	limit = clampLimit(limit, 50, 500)

	entries := []*JournalEntry{}
	query := `
        SELECT ` + journalColumns + `
        FROM journal_entries
        WHERE user_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &entries, query, userID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error listing journal entries", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list journal entries for user %s: %w", userID, err)
	}
	return entries, nil
}

// SearchJournalEntries returns the user's entries whose title, content or
// keywords contain any of the terms, newest first.
func (s *sqlxStore) SearchJournalEntries(ctx context.Context, userID string, terms []string, limit int) ([]*JournalEntry, error) {
	if len(terms) == 0 {
		return s.ListJournalEntries(ctx, userID, limit)
	}
	limit = clampLimit(limit, 5, 50)

	clause, args := likeClause(terms, "title", "content", "keywords")
	query := `
        SELECT ` + journalColumns + `
        FROM journal_entries
        WHERE user_id = ? AND ` + clause + `
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `
	params := append([]any{userID}, args...)
	params = append(params, limit)

	entries := []*JournalEntry{}
	if err := s.db.SelectContext(ctx, &entries, query, params...); err != nil {
		s.logger.ErrorContext(ctx, "Error searching journal entries", "user_id", userID, "terms", terms, "error", err)
		return nil, fmt.Errorf("failed to search journal entries for user %s: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "Searched journal entries", "user_id", userID, "terms", len(terms), "count", len(entries))
	return entries, nil
}

// FinalizeJournalEntry applies the enrichment fields and clears is_processing.
func (s *sqlxStore) FinalizeJournalEntry(ctx context.Context, id string, enrichment Enrichment) error {
	summary := enrichment.Summary
	query := `
        UPDATE journal_entries
        SET summary = ?, mood_tags = ?, keywords = ?, sentences = ?, is_processing = 0, updated_at = ?
        WHERE id = ?;
    `
	result, err := s.db.ExecContext(ctx, query,
		&summary,
		nonNilList(enrichment.MoodTags),
		nonNilList(enrichment.Keywords),
		nonNilList(enrichment.Sentences),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error finalizing journal entry", "entry_id", id, "error", err)
		return fmt.Errorf("failed to finalize journal entry %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for entry %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.DebugContext(ctx, "Journal entry finalized", "entry_id", id)
	return nil
}

// ListStaleProcessingEntries returns entries still processing that were created before olderThan, oldest first.
func (s *sqlxStore) ListStaleProcessingEntries(ctx context.Context, olderThan time.Time, limit int) ([]*JournalEntry, error) {
	limit = clampLimit(limit, 50, 500)

	entries := []*JournalEntry{}
	query := `
        SELECT ` + journalColumns + `
        FROM journal_entries
        WHERE is_processing = 1 AND created_at < ?
        ORDER BY created_at ASC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &entries, query, olderThan.UTC(), limit); err != nil {
		s.logger.ErrorContext(ctx, "Error listing stale processing entries", "error", err)
		return nil, fmt.Errorf("failed to list stale processing entries: %w", err)
	}
	return entries, nil
}

func nonNilList(in []string) StringList {
	if in == nil {
		return StringList{}
	}
	return StringList(in)
}
