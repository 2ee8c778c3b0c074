package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList is a list of strings persisted as a JSON array in a TEXT column.
// A nil list is stored as NULL so enrichment fields stay absent until set.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("failed to encode string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type %T for string list", src)
	}

	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode string list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

// JournalEntry is a user's journal entry. Summary, MoodTags, Keywords and
// Sentences stay nil while IsProcessing is true and are filled exactly once by
// the enrichment callback.
type JournalEntry struct {
	ID           string     `db:"id"            json:"id"`
	UserID       string     `db:"user_id"       json:"user_id"`
	Title        string     `db:"title"         json:"title"`
	Content      string     `db:"content"       json:"content"`
	Summary      *string    `db:"summary"       json:"summary"`
	MoodTags     StringList `db:"mood_tags"     json:"mood_tags"`
	Keywords     StringList `db:"keywords"      json:"keywords"`
	Sentences    StringList `db:"sentences"     json:"sentences,omitempty"`
	Tags         StringList `db:"tags"          json:"tags"`
	IsProcessing bool       `db:"is_processing" json:"is_processing"`
	Location     *string    `db:"location"      json:"location,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// Enrichment holds the fields resolved by the external processing service.
type Enrichment struct {
	Summary   string
	MoodTags  []string
	Keywords  []string
	Sentences []string
}

// Chat groups the web chat messages of one conversation.
type Chat struct {
	ID        string    `db:"id"         json:"id"`
	UserID    string    `db:"user_id"    json:"user_id"`
	Title     string    `db:"title"      json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one append-only turn of a web chat.
type ChatMessage struct {
	ID        int64     `db:"id"         json:"id"`
	ChatID    string    `db:"chat_id"    json:"chat_id"`
	UserID    string    `db:"user_id"    json:"-"`
	Role      string    `db:"role"       json:"role"`
	Content   string    `db:"content"    json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TelegramMessage is one append-only message of a Telegram conversation,
// keyed by the external chat identifier.
type TelegramMessage struct {
	ID        int64     `db:"id"`
	ChatID    int64     `db:"chat_id"`
	SenderID  int64     `db:"sender_id"`
	Content   string    `db:"content"`
	IsBot     bool      `db:"is_bot"`
	CreatedAt time.Time `db:"created_at"`
}

// TelegramLink maps a Telegram user to an application account.
type TelegramLink struct {
	TelegramUserID int64     `db:"telegram_user_id"`
	UserID         string    `db:"user_id"`
	LinkedAt       time.Time `db:"linked_at"`
}

// LinkCode is a one-time code a web user hands to the Telegram bot to link accounts.
type LinkCode struct {
	Code      string    `db:"code"       json:"code"`
	UserID    string    `db:"user_id"    json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

// Activity is a suggested wellness activity from the seeded catalog.
type Activity struct {
	ID          int64      `db:"id"`
	Name        string     `db:"name"`
	Description string     `db:"description"`
	Category    string     `db:"category"`
	MoodTags    StringList `db:"mood_tags"`
}

// UserFact is a structured fact previously extracted from a user's conversations.
type UserFact struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	Kind      string    `db:"kind"`
	Value     string    `db:"value"`
	CreatedAt time.Time `db:"created_at"`
}

// FactCursor tracks the last chat message already analyzed for a user.
type FactCursor struct {
	UserID        string `db:"user_id"`
	LastMessageID int64  `db:"last_message_id"`
}
