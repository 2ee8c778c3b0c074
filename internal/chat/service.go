package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/gemini"
	"github.com/edgard/mindjournal/internal/logger"
)

const maxChatTitleRunes = 60

// ErrEmptyMessage is returned when the user message is blank.
var ErrEmptyMessage = errors.New("message is empty")

// Service answers user messages with grounded AI replies.
type Service struct {
	store     database.Store
	ai        gemini.Client
	assembler *Assembler
	limits    Limits
	log       *slog.Logger
}

// NewService creates a chat service.
func NewService(store database.Store, ai gemini.Client, limits Limits, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		store:     store,
		ai:        ai,
		assembler: NewAssembler(store, limits, log),
		limits:    limits,
		log:       log.With("component", "chat_service"),
	}
}

// Prompt assembles the user's context and builds the model prompt.
func (s *Service) Prompt(ctx context.Context, userID, message string, history []gemini.Message) []gemini.Message {
	c := s.assembler.Assemble(ctx, userID, message)
	return BuildPrompt(BuildPromptInput(c, history, message))
}

// OpenChat returns the user's chat with chatID, or creates a new chat when
// chatID is empty. A chat owned by someone else is reported as not found.
func (s *Service) OpenChat(ctx context.Context, userID, chatID, firstMessage string) (*database.Chat, error) {
	if chatID != "" {
		chat, err := s.store.GetChat(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if chat.UserID != userID {
			return nil, database.ErrNotFound
		}
		return chat, nil
	}

	chat := &database.Chat{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  truncateRunes(strings.Join(strings.Fields(firstMessage), " "), maxChatTitleRunes),
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	s.log.InfoContext(ctx, "Chat created", "chat_id", chat.ID, "user_id", userID)
	return chat, nil
}

// StreamReply stores the user message, streams the reply through onChunk and
// stores exactly the streamed text as the assistant message. When the stream
// fails after some text was sent, that partial text is still stored.
func (s *Service) StreamReply(ctx context.Context, chat *database.Chat, message string, onChunk func(chunk string) error) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}

	history, err := s.store.GetChatMessages(ctx, chat.ID, s.limits.History)
	if err != nil {
		s.log.WarnContext(ctx, "Chat history unavailable, replying without it", "chat_id", chat.ID, "error", err)
		history = nil
	}

	userMsg := &database.ChatMessage{ChatID: chat.ID, UserID: chat.UserID, Role: database.RoleUser, Content: message}
	if err := s.store.SaveChatMessage(ctx, userMsg); err != nil {
		return "", fmt.Errorf("failed to store user message: %w", err)
	}

	prompt := s.Prompt(ctx, chat.UserID, message, HistoryFromChat(history))
	full, streamErr := s.ai.StreamReply(ctx, prompt, onChunk)

	if full != "" {
		assistantMsg := &database.ChatMessage{ChatID: chat.ID, UserID: chat.UserID, Role: database.RoleAssistant, Content: full}
		if err := s.store.SaveChatMessage(ctx, assistantMsg); err != nil {
			return full, fmt.Errorf("failed to store assistant message: %w", err)
		}
	}
	if streamErr != nil {
		return full, fmt.Errorf("failed to stream reply: %w", streamErr)
	}

	s.log.InfoContext(ctx, "Chat reply streamed", "chat_id", chat.ID, "length", len(full))
	return full, nil
}

// Reply returns a complete grounded reply to message given prior history.
func (s *Service) Reply(ctx context.Context, userID, message string, history []gemini.Message) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	reply, err := s.ai.GenerateReply(ctx, s.Prompt(ctx, userID, message, history))
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	return reply, nil
}

// HistoryFromChat converts stored web chat messages into prompt turns.
func HistoryFromChat(messages []*database.ChatMessage) []gemini.Message {
	out := make([]gemini.Message, 0, len(messages))
	for _, m := range messages {
		role := gemini.RoleUser
		if m.Role == database.RoleAssistant {
			role = gemini.RoleAssistant
		}
		out = append(out, gemini.Message{Role: role, Content: m.Content})
	}
	return out
}
