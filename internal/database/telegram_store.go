package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

// SaveTelegramMessage appends a Telegram message and sets its generated ID.
func (s *sqlxStore) SaveTelegramMessage(ctx context.Context, msg *TelegramMessage) error {
	if msg == nil {
		return fmt.Errorf("cannot save nil telegram message")
	}
	if msg.ChatID == 0 {
		return fmt.Errorf("telegram message must have a non-zero chat_id")
	}
	if msg.Content == "" {
		return fmt.Errorf("telegram message must have non-empty content")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO telegram_messages (chat_id, sender_id, content, is_bot, created_at)
        VALUES (:chat_id, :sender_id, :content, :is_bot, :created_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving telegram message", "chat_id", msg.ChatID, "sender_id", msg.SenderID, "error", err)
		return fmt.Errorf("failed to save telegram message (chat %d): %w", msg.ChatID, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		msg.ID = id
	}
	return nil
}

// GetTelegramMessages returns the last 'limit' messages of a Telegram chat in chronological order.
func (s *sqlxStore) GetTelegramMessages(ctx context.Context, chatID int64, limit int) ([]*TelegramMessage, error) {
	limit = clampLimit(limit, 20, 200)

	messages := []*TelegramMessage{}
	query := `
        SELECT id, chat_id, sender_id, content, is_bot, created_at
        FROM telegram_messages
        WHERE chat_id = ?
        ORDER BY id DESC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &messages, query, chatID, limit); err != nil {
		return nil, fmt.Errorf("failed to get telegram messages for chat %d: %w", chatID, err)
	}
	slices.Reverse(messages)
	return messages, nil
}

// DeleteTelegramMessages deletes every message of a Telegram chat.
func (s *sqlxStore) DeleteTelegramMessages(ctx context.Context, chatID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM telegram_messages WHERE chat_id = ?;`, chatID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting telegram messages", "chat_id", chatID, "error", err)
		return 0, fmt.Errorf("failed to delete telegram messages for chat %d: %w", chatID, err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Deleted telegram messages", "chat_id", chatID, "count", count)
	return count, nil
}

// GetTelegramLink returns the account link of a Telegram user.
func (s *sqlxStore) GetTelegramLink(ctx context.Context, telegramUserID int64) (*TelegramLink, error) {
	var link TelegramLink
	query := `SELECT telegram_user_id, user_id, linked_at FROM telegram_links WHERE telegram_user_id = ?;`
	if err := s.db.GetContext(ctx, &link, query, telegramUserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get telegram link for user %d: %w", telegramUserID, err)
	}
	return &link, nil
}

// SaveLinkCode stores a one-time link code.
func (s *sqlxStore) SaveLinkCode(ctx context.Context, code *LinkCode) error {
	if code == nil || code.Code == "" || code.UserID == "" {
		return fmt.Errorf("link code must have a code and a user_id")
	}
	code.ExpiresAt = code.ExpiresAt.UTC()
	query := `INSERT INTO telegram_link_codes (code, user_id, expires_at) VALUES (:code, :user_id, :expires_at);`
	if _, err := s.db.NamedExecContext(ctx, query, code); err != nil {
		return fmt.Errorf("failed to save link code: %w", err)
	}
	return nil
}

// ConsumeLinkCode links the Telegram user to the code's owner and deletes the code.
func (s *sqlxStore) ConsumeLinkCode(ctx context.Context, code string, telegramUserID int64, now time.Time) (*TelegramLink, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	var stored LinkCode
	err = tx.GetContext(ctx, &stored,
		`SELECT code, user_id, expires_at FROM telegram_link_codes WHERE code = ? AND expires_at > ?;`,
		code, now.UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up link code: %w", err)
	}

	link := &TelegramLink{TelegramUserID: telegramUserID, UserID: stored.UserID, LinkedAt: now.UTC()}
	_, err = tx.NamedExecContext(ctx, `
        INSERT INTO telegram_links (telegram_user_id, user_id, linked_at)
        VALUES (:telegram_user_id, :user_id, :linked_at)
        ON CONFLICT(telegram_user_id) DO UPDATE SET user_id = excluded.user_id, linked_at = excluded.linked_at;
    `, link)
	if err != nil {
		return nil, fmt.Errorf("failed to save telegram link: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM telegram_link_codes WHERE code = ?;`, code); err != nil {
		return nil, fmt.Errorf("failed to delete link code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Linked telegram account", "telegram_user_id", telegramUserID, "user_id", link.UserID)
	return link, nil
}

// DeleteExpiredLinkCodes removes codes that can no longer be consumed.
func (s *sqlxStore) DeleteExpiredLinkCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM telegram_link_codes WHERE expires_at <= ?;`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired link codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted link codes: %w", err)
	}
	return n, nil
}
