package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/mindjournal/internal/config"
	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/gemini"
	"github.com/edgard/mindjournal/internal/logger"
)

// Sender is the part of the Bot API the handler uses. *bot.Bot satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// Replier produces a grounded reply for a linked user.
type Replier interface {
	Reply(ctx context.Context, userID, message string, history []gemini.Message) (string, error)
}

// HandlerDeps provides dependencies for the Telegram update handler.
type HandlerDeps struct {
	Logger    *slog.Logger
	Store     database.Store
	Replier   Replier
	Messages  config.TelegramMessages
	History   int
	AITimeout time.Duration
}

// Handler processes Telegram updates delivered by the webhook.
type Handler struct {
	deps HandlerDeps
	log  *slog.Logger
	now  func() time.Time
}

// NewHandler creates the update handler.
func NewHandler(deps HandlerDeps) *Handler {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.AITimeout <= 0 {
		deps.AITimeout = 90 * time.Second
	}
	return &Handler{
		deps: deps,
		log:  deps.Logger.With("handler", "telegram_update"),
		now:  time.Now,
	}
}

// Handle is the bot.HandlerFunc registered as the bot's default handler.
func (h *Handler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.Process(ctx, b, update)
}

// Process runs one update through the command and chat pipeline. Every
// failure is logged and answered with a fixed text; nothing is returned.
func (h *Handler) Process(ctx context.Context, sender Sender, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return
	}
	msg := update.Message
	if msg.From.IsBot || strings.TrimSpace(msg.Text) == "" {
		h.log.DebugContext(ctx, "Ignoring update without user text", "update_id", update.ID)
		return
	}

	chatID := msg.Chat.ID
	senderID := msg.From.ID
	text := strings.TrimSpace(msg.Text)
	log := h.log.With("chat_id", chatID, "sender_id", senderID)

	cmd, args, isCommand := parseCommand(text)
	if isCommand {
		switch cmd {
		case "link":
			h.handleLink(ctx, sender, log, chatID, senderID, args)
			return
		case "start":
			h.send(ctx, sender, log, chatID, h.deps.Messages.Welcome)
			return
		}
	}

	link, err := h.deps.Store.GetTelegramLink(ctx, senderID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.InfoContext(ctx, "Message from unlinked Telegram user")
			h.send(ctx, sender, log, chatID, h.deps.Messages.NotLinked)
			return
		}
		log.ErrorContext(ctx, "Failed to look up Telegram link", "error", err)
		h.send(ctx, sender, log, chatID, h.deps.Messages.Fallback)
		return
	}

	if isCommand && cmd == "clear" {
		h.handleClear(ctx, sender, log, chatID)
		return
	}

	h.handleChat(ctx, sender, log.With("user_id", link.UserID), chatID, senderID, link.UserID, text)
}

func (h *Handler) handleLink(ctx context.Context, sender Sender, log *slog.Logger, chatID, senderID int64, code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		h.send(ctx, sender, log, chatID, h.deps.Messages.InvalidCode)
		return
	}

	link, err := h.deps.Store.ConsumeLinkCode(ctx, code, senderID, h.now())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.InfoContext(ctx, "Invalid or expired link code")
			h.send(ctx, sender, log, chatID, h.deps.Messages.InvalidCode)
			return
		}
		log.ErrorContext(ctx, "Failed to consume link code", "error", err)
		h.send(ctx, sender, log, chatID, h.deps.Messages.Fallback)
		return
	}

	log.InfoContext(ctx, "Telegram account linked", "user_id", link.UserID)
	h.send(ctx, sender, log, chatID, h.deps.Messages.Linked)
}

func (h *Handler) handleClear(ctx context.Context, sender Sender, log *slog.Logger, chatID int64) {
	deleted, err := h.deps.Store.DeleteTelegramMessages(ctx, chatID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to clear Telegram history", "error", err)
		h.send(ctx, sender, log, chatID, h.deps.Messages.Fallback)
		return
	}
	log.InfoContext(ctx, "Telegram history cleared", "deleted", deleted)
	h.send(ctx, sender, log, chatID, h.deps.Messages.Cleared)
}

func (h *Handler) handleChat(ctx context.Context, sender Sender, log *slog.Logger, chatID, senderID int64, userID, text string) {
	history, err := h.deps.Store.GetTelegramMessages(ctx, chatID, h.deps.History)
	if err != nil {
		log.WarnContext(ctx, "Telegram history unavailable, replying without it", "error", err)
		history = nil
	}

	if err := h.deps.Store.SaveTelegramMessage(ctx, &database.TelegramMessage{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  text,
	}); err != nil {
		log.ErrorContext(ctx, "Failed to save Telegram message", "error", err)
	}

	aiCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.deps.AITimeout)
	defer cancel()

	var wg sync.WaitGroup
	typingCtx, stopTyping := context.WithCancel(aiCtx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		keepTyping(typingCtx, sender, chatID, log)
	}()

	reply, err := h.deps.Replier.Reply(aiCtx, userID, text, HistoryFromTelegram(history))
	stopTyping()
	wg.Wait()

	if err != nil {
		log.ErrorContext(ctx, "Failed to generate Telegram reply", "error", err)
		h.send(ctx, sender, log, chatID, h.deps.Messages.Fallback)
		return
	}

	reply = Truncate(reply)
	if !h.send(aiCtx, sender, log, chatID, reply) {
		return
	}

	if err := h.deps.Store.SaveTelegramMessage(aiCtx, &database.TelegramMessage{
		ChatID:  chatID,
		Content: reply,
		IsBot:   true,
	}); err != nil {
		log.ErrorContext(ctx, "Failed to save bot reply", "error", err)
	}
}

// send delivers text and, when that fails, retries once with the fallback
// text. It reports whether the original text was delivered.
func (h *Handler) send(ctx context.Context, sender Sender, log *slog.Logger, chatID int64, text string) bool {
	_, err := sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err == nil {
		return true
	}
	log.WarnContext(ctx, "Failed to send Telegram message, retrying with fallback", "error", err)

	if _, err := sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: h.deps.Messages.Fallback}); err != nil {
		log.ErrorContext(ctx, "Failed to send Telegram fallback message", "error", err)
	}
	return false
}

// HistoryFromTelegram converts stored Telegram messages into prompt turns.
func HistoryFromTelegram(messages []*database.TelegramMessage) []gemini.Message {
	out := make([]gemini.Message, 0, len(messages))
	for _, m := range messages {
		role := gemini.RoleUser
		if m.IsBot {
			role = gemini.RoleAssistant
		}
		out = append(out, gemini.Message{Role: role, Content: m.Content})
	}
	return out
}
