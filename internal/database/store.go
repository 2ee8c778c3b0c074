package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error

	// CreateJournalEntry inserts a new entry in its processing state.
	CreateJournalEntry(ctx context.Context, entry *JournalEntry) error

	// GetJournalEntry retrieves an entry by ID. Returns ErrNotFound if missing.
	GetJournalEntry(ctx context.Context, id string) (*JournalEntry, error)

	// ListJournalEntries returns the user's most recent entries, newest first.
	ListJournalEntries(ctx context.Context, userID string, limit int) ([]*JournalEntry, error)

	// SearchJournalEntries returns the user's entries matching any of the terms, newest first.
	SearchJournalEntries(ctx context.Context, userID string, terms []string, limit int) ([]*JournalEntry, error)

	// FinalizeJournalEntry applies the enrichment fields and clears is_processing in one update.
	FinalizeJournalEntry(ctx context.Context, id string, enrichment Enrichment) error

	// ListStaleProcessingEntries returns entries still processing that were created before olderThan.
	ListStaleProcessingEntries(ctx context.Context, olderThan time.Time, limit int) ([]*JournalEntry, error)

	// CreateChat inserts a new chat.
	CreateChat(ctx context.Context, chat *Chat) error

	// GetChat retrieves a chat by ID. Returns ErrNotFound if missing.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// ListChats returns the user's chats, newest first.
	ListChats(ctx context.Context, userID string) ([]*Chat, error)

	// SaveChatMessage appends a message to a chat.
	SaveChatMessage(ctx context.Context, msg *ChatMessage) error

	// GetChatMessages returns the last 'limit' messages of a chat in chronological order.
	GetChatMessages(ctx context.Context, chatID string, limit int) ([]*ChatMessage, error)

	// DeleteChat deletes a chat and its whole message history.
	DeleteChat(ctx context.Context, chatID string) error

	// ListUserMessagesAfter returns a user's messages with ID greater than afterID, oldest first.
	ListUserMessagesAfter(ctx context.Context, userID string, afterID int64, limit int) ([]*ChatMessage, error)

	// ListFactCursors returns a cursor for every user with chat messages not yet analyzed.
	ListFactCursors(ctx context.Context) ([]FactCursor, error)

	// SaveFactCursor records the last analyzed chat message for a user.
	SaveFactCursor(ctx context.Context, cursor FactCursor) error

	// SaveTelegramMessage appends a Telegram message.
	SaveTelegramMessage(ctx context.Context, msg *TelegramMessage) error

	// GetTelegramMessages returns the last 'limit' messages of a Telegram chat in chronological order.
	GetTelegramMessages(ctx context.Context, chatID int64, limit int) ([]*TelegramMessage, error)

	// DeleteTelegramMessages deletes every message of a Telegram chat.
	DeleteTelegramMessages(ctx context.Context, chatID int64) (int64, error)

	// GetTelegramLink returns the account link of a Telegram user. Returns ErrNotFound if unlinked.
	GetTelegramLink(ctx context.Context, telegramUserID int64) (*TelegramLink, error)

	// SaveLinkCode stores a one-time link code.
	SaveLinkCode(ctx context.Context, code *LinkCode) error

	// ConsumeLinkCode links the Telegram user to the code's owner and deletes the code.
	// Returns ErrNotFound if the code does not exist or expired before now.
	ConsumeLinkCode(ctx context.Context, code string, telegramUserID int64, now time.Time) (*TelegramLink, error)

	// DeleteExpiredLinkCodes removes codes that expired at or before now and returns how many were removed.
	DeleteExpiredLinkCodes(ctx context.Context, now time.Time) (int64, error)

	// ListActivities returns the activity catalog.
	ListActivities(ctx context.Context, limit int) ([]*Activity, error)

	// SearchUserFacts returns the user's facts matching any of the terms, or the
	// most recent facts when terms is empty.
	SearchUserFacts(ctx context.Context, userID string, terms []string, limit int) ([]*UserFact, error)

	// SaveUserFacts inserts facts, ignoring ones the user already has.
	SaveUserFacts(ctx context.Context, facts []*UserFact) (int64, error)
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunSQLMaintenance executes VACUUM and PRAGMA optimize on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")
	startTime := time.Now()

	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		s.logger.ErrorContext(ctx, "Failed to execute VACUUM", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		s.logger.WarnContext(ctx, "Failed to run PRAGMA optimize", "error", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance completed", "duration", time.Since(startTime))
	return nil
}

// rollback rolls back tx unless it was already committed.
func (s *sqlxStore) rollback(ctx context.Context, tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.WarnContext(ctx, "Error rolling back transaction", "error", err)
	}
}

func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// likeClause builds "(col1 LIKE ? OR col2 LIKE ? ...)" OR-ed across every term
// and the matching arguments.
func likeClause(terms []string, columns ...string) (string, []any) {
	clause := ""
	args := make([]any, 0, len(terms)*len(columns))
	for i, term := range terms {
		if i > 0 {
			clause += " OR "
		}
		clause += "("
		for j, col := range columns {
			if j > 0 {
				clause += " OR "
			}
			clause += "LOWER(IFNULL(" + col + ", '')) LIKE ?"
			args = append(args, "%"+term+"%")
		}
		clause += ")"
	}
	return "(" + clause + ")", args
}
