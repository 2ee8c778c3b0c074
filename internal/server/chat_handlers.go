package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edgard/mindjournal/internal/chat"
	"github.com/edgard/mindjournal/internal/database"
)

const maxChatMessages = 200

type chatRequest struct {
	Message string `json:"message" binding:"required"`
	ChatID  string `json:"chatId"`
}

// chatEvent is one SSE data line of the chat stream.
type chatEvent struct {
	Text   string `json:"text"`
	ChatID string `json:"chatId,omitempty"`
	Done   bool   `json:"done,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleChat(c *gin.Context) {
	ctx := c.Request.Context()
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := s.deps.Chat.OpenChat(ctx, CurrentUserID(c), req.ChatID, req.Message)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(c, http.StatusNotFound, "chat not found")
			return
		}
		s.log.ErrorContext(ctx, "Failed to open chat", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to open chat")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	log := s.log.With("chat_id", conv.ID, "user_id", conv.UserID)
	clientGone := false
	send := func(ev chatEvent) {
		if clientGone {
			return
		}
		if err := writeEvent(c, ev); err != nil {
			clientGone = true
			log.InfoContext(ctx, "Chat client disconnected, finishing reply in background", "error", err)
		}
	}

	// The reply is generated and stored even when the client disconnects.
	aiCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.Config.Gemini.Timeout)
	defer cancel()

	_, err = s.deps.Chat.StreamReply(aiCtx, conv, req.Message, func(chunk string) error {
		send(chatEvent{Text: chunk, ChatID: conv.ID})
		return nil
	})
	if err != nil {
		log.ErrorContext(ctx, "Chat reply failed", "error", err)
		msg := "failed to generate reply"
		if errors.Is(err, chat.ErrEmptyMessage) {
			msg = err.Error()
		}
		send(chatEvent{ChatID: conv.ID, Done: true, Error: msg})
		return
	}

	send(chatEvent{ChatID: conv.ID, Done: true})
}

func writeEvent(c *gin.Context, ev chatEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode chat event: %w", err)
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func (s *Server) handleListChats(c *gin.Context) {
	ctx := c.Request.Context()
	chats, err := s.deps.Store.ListChats(ctx, CurrentUserID(c))
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to list chats", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to list chats")
		return
	}
	c.JSON(http.StatusOK, chats)
}

func (s *Server) handleChatMessages(c *gin.Context) {
	ctx := c.Request.Context()
	conv, ok := s.ownedChat(c)
	if !ok {
		return
	}

	messages, err := s.deps.Store.GetChatMessages(ctx, conv.ID, maxChatMessages)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to get chat messages", "chat_id", conv.ID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to get chat messages")
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) handleDeleteChat(c *gin.Context) {
	ctx := c.Request.Context()
	conv, ok := s.ownedChat(c)
	if !ok {
		return
	}

	if err := s.deps.Store.DeleteChat(ctx, conv.ID); err != nil {
		s.log.ErrorContext(ctx, "Failed to delete chat", "chat_id", conv.ID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	c.Status(http.StatusNoContent)
}

// ownedChat loads the :id chat and writes a 404 unless it belongs to the caller.
func (s *Server) ownedChat(c *gin.Context) (*database.Chat, bool) {
	ctx := c.Request.Context()
	conv, err := s.deps.Store.GetChat(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(c, http.StatusNotFound, "chat not found")
			return nil, false
		}
		s.log.ErrorContext(ctx, "Failed to get chat", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to get chat")
		return nil, false
	}
	if conv.UserID != CurrentUserID(c) {
		respondError(c, http.StatusNotFound, "chat not found")
		return nil, false
	}
	return conv, true
}
