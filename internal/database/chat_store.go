package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

// CreateChat inserts a new chat.
func (s *sqlxStore) CreateChat(ctx context.Context, chat *Chat) error {
	if chat == nil || chat.ID == "" || chat.UserID == "" {
		return fmt.Errorf("chat must have an id and a user_id")
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO chats (id, user_id, title, created_at) VALUES (:id, :user_id, :title, :created_at);`
	if _, err := s.db.NamedExecContext(ctx, query, chat); err != nil {
		s.logger.ErrorContext(ctx, "Error creating chat", "chat_id", chat.ID, "user_id", chat.UserID, "error", err)
		return fmt.Errorf("failed to create chat %s: %w", chat.ID, err)
	}
	return nil
}

// GetChat retrieves a chat by ID.
func (s *sqlxStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	var chat Chat
	err := s.db.GetContext(ctx, &chat, `SELECT id, user_id, title, created_at FROM chats WHERE id = ?;`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat %s: %w", id, err)
	}
	return &chat, nil
}

// ListChats returns the user's chats, newest first.
func (s *sqlxStore) ListChats(ctx context.Context, userID string) ([]*Chat, error) {
	chats := []*Chat{}
	query := `SELECT id, user_id, title, created_at FROM chats WHERE user_id = ? ORDER BY created_at DESC;`
	if err := s.db.SelectContext(ctx, &chats, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list chats for user %s: %w", userID, err)
	}
	return chats, nil
}

// SaveChatMessage appends a message to a chat and sets its generated ID.
func (s *sqlxStore) SaveChatMessage(ctx context.Context, msg *ChatMessage) error {
	if msg == nil {
		return fmt.Errorf("cannot save nil chat message")
	}
	if msg.ChatID == "" || msg.UserID == "" {
		return fmt.Errorf("chat message must have a chat_id and a user_id")
	}
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("invalid chat message role %q", msg.Role)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO chat_messages (chat_id, user_id, role, content, created_at)
        VALUES (:chat_id, :user_id, :role, :content, :created_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving chat message", "chat_id", msg.ChatID, "role", msg.Role, "error", err)
		return fmt.Errorf("failed to save chat message (chat %s): %w", msg.ChatID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		msg.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving chat message", "chat_id", msg.ChatID, "error", err)
	}
	return nil
}

// GetChatMessages returns the last 'limit' messages of a chat in chronological order.
func (s *sqlxStore) GetChatMessages(ctx context.Context, chatID string, limit int) ([]*ChatMessage, error) {
	limit = clampLimit(limit, 50, 1000)

	messages := []*ChatMessage{}
	query := `
        SELECT id, chat_id, user_id, role, content, created_at
        FROM chat_messages
        WHERE chat_id = ?
        ORDER BY id DESC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &messages, query, chatID, limit); err != nil {
		return nil, fmt.Errorf("failed to get messages for chat %s: %w", chatID, err)
	}
	slices.Reverse(messages)
	return messages, nil
}

// DeleteChat deletes a chat and all of its messages in one transaction.
func (s *sqlxStore) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	result, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_id = ?;`, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete messages of chat %s: %w", chatID, err)
	}
	deleted, _ := result.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?;`, chatID); err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", chatID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Deleted chat history", "chat_id", chatID, "messages", deleted)
	return nil
}

// ListUserMessagesAfter returns a user's messages with ID greater than afterID, oldest first.
func (s *sqlxStore) ListUserMessagesAfter(ctx context.Context, userID string, afterID int64, limit int) ([]*ChatMessage, error) {
	limit = clampLimit(limit, 200, 1000)

	messages := []*ChatMessage{}
	query := `
        SELECT id, chat_id, user_id, role, content, created_at
        FROM chat_messages
        WHERE user_id = ? AND id > ?
        ORDER BY id ASC
        LIMIT ?;
    `
	if err := s.db.SelectContext(ctx, &messages, query, userID, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list messages for user %s: %w", userID, err)
	}
	return messages, nil
}

// ListFactCursors returns a cursor for every user with chat messages newer than their last analyzed message.
func (s *sqlxStore) ListFactCursors(ctx context.Context) ([]FactCursor, error) {
	cursors := []FactCursor{}
	query := `
        SELECT m.user_id AS user_id, COALESCE(st.last_message_id, 0) AS last_message_id
        FROM chat_messages m
        LEFT JOIN fact_extraction_state st ON st.user_id = m.user_id
        GROUP BY m.user_id
        HAVING MAX(m.id) > COALESCE(st.last_message_id, 0);
    `
	if err := s.db.SelectContext(ctx, &cursors, query); err != nil {
		return nil, fmt.Errorf("failed to list fact extraction cursors: %w", err)
	}
	return cursors, nil
}

// SaveFactCursor records the last analyzed chat message for a user.
func (s *sqlxStore) SaveFactCursor(ctx context.Context, cursor FactCursor) error {
	query := `
        INSERT INTO fact_extraction_state (user_id, last_message_id)
        VALUES (:user_id, :last_message_id)
        ON CONFLICT(user_id) DO UPDATE SET last_message_id = excluded.last_message_id;
    `
	if _, err := s.db.NamedExecContext(ctx, query, cursor); err != nil {
		return fmt.Errorf("failed to save fact cursor for user %s: %w", cursor.UserID, err)
	}
	return nil
}
