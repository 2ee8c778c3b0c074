package telegram

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const typingInterval = 4 * time.Second

// keepTyping shows the typing indicator in chatID until ctx is done.
func keepTyping(ctx context.Context, sender Sender, chatID int64, log *slog.Logger) {
	ticker := time.NewTicker(typingInterval)
	defer ticker.Stop()

	for {
		if _, err := sender.SendChatAction(ctx, &bot.SendChatActionParams{
			ChatID: chatID,
			Action: models.ChatActionTyping,
		}); err != nil && ctx.Err() == nil {
			log.DebugContext(ctx, "Typing action failed", "chat_id", chatID, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
