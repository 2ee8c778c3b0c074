package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/mindjournal/internal/database"
)

const (
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	linkCodeLength       = 6
	linkCodeTTL          = 10 * time.Minute
	linkCodeAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// handleTelegramWebhook always answers 200 so Telegram never retries a
// delivery; failures are only logged. Accepted updates are processed after
// the response on a context detached from the request.
func (s *Server) handleTelegramWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	if secret := s.deps.Config.Telegram.WebhookSecret; secret != "" {
		got := c.GetHeader(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			s.log.WarnContext(ctx, "Ignoring Telegram webhook with invalid secret token")
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
	}

	var update models.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		s.log.WarnContext(ctx, "Ignoring undecodable Telegram update", "error", err)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if s.deps.Telegram == nil {
		s.log.WarnContext(ctx, "Telegram update received but the bot is not configured", "update_id", update.ID)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})

	processCtx := context.WithoutCancel(ctx)
	s.updates.Add(1)
	go func() {
		defer s.updates.Done()
		s.deps.Telegram.ProcessUpdate(processCtx, &update)
	}()
}

func (s *Server) handleLinkCode(c *gin.Context) {
	ctx := c.Request.Context()
	code, err := newLinkCode()
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to generate link code", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to generate link code")
		return
	}

	linkCode := &database.LinkCode{
		Code:      code,
		UserID:    CurrentUserID(c),
		ExpiresAt: s.now().Add(linkCodeTTL).UTC(),
	}
	if err := s.deps.Store.SaveLinkCode(ctx, linkCode); err != nil {
		s.log.ErrorContext(ctx, "Failed to save link code", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to save link code")
		return
	}

	c.JSON(http.StatusCreated, linkCode)
}

func newLinkCode() (string, error) {
	buf := make([]byte, linkCodeLength)
	limit := big.NewInt(int64(len(linkCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		buf[i] = linkCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
