package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/journal"
)

const (
	journalCacheControl = "private, max-age=30, stale-while-revalidate=60"
	defaultJournalLimit = 50
)

type createJournalRequest struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"  binding:"required"`
	Location *string `json:"location"`
}

type createJournalResponse struct {
	*database.JournalEntry
	Status string `json:"status"`
}

func (s *Server) handleListJournal(c *gin.Context) {
	ctx := c.Request.Context()
	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.deps.Journal.List(ctx, CurrentUserID(c), limit)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to list journal entries", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to list journal entries")
		return
	}

	c.Header("Cache-Control", journalCacheControl)
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleCreateJournal(c *gin.Context) {
	ctx := c.Request.Context()
	var req createJournalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := s.deps.Journal.Create(ctx, journal.NewEntry{
		UserID:   CurrentUserID(c),
		Title:    req.Title,
		Content:  req.Content,
		Location: req.Location,
	}, s.deps.Targets.ForRequest(c.Request))
	if err != nil {
		if errors.Is(err, journal.ErrInvalidEntry) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		s.log.ErrorContext(ctx, "Failed to create journal entry", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to create journal entry")
		return
	}

	c.JSON(http.StatusCreated, createJournalResponse{JournalEntry: entry, Status: "processing"})
}

func (s *Server) handleJournalWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	if secret := s.deps.Config.Enrichment.Secret; secret != "" {
		got := c.GetHeader(journal.SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			s.log.WarnContext(ctx, "Rejected journal webhook with invalid secret")
			respondError(c, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	var result journal.WebhookResult
	if err := c.ShouldBindJSON(&result); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.deps.Journal.Finalize(ctx, result); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(c, http.StatusNotFound, "journal entry not found")
			return
		}
		s.log.ErrorContext(ctx, "Failed to finalize journal entry", "entry_id", result.EntryID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to finalize journal entry")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
