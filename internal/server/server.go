// Package server exposes the journal, chat and Telegram webhook HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/mindjournal/internal/chat"
	"github.com/edgard/mindjournal/internal/config"
	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/journal"
	"github.com/edgard/mindjournal/internal/logger"
)

// UpdateProcessor handles one decoded Telegram update. *bot.Bot satisfies it.
type UpdateProcessor interface {
	ProcessUpdate(ctx context.Context, update *models.Update)
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Journal  *journal.Service
	Targets  *journal.Targets
	Chat     *chat.Service
	Telegram UpdateProcessor
}

// Server is the HTTP API server.
type Server struct {
	deps    Deps
	log     *slog.Logger
	engine  *gin.Engine
	now     func() time.Time
	updates sync.WaitGroup
}

// New builds the server and registers all routes.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	s := &Server{
		deps: deps,
		log:  deps.Logger.With("component", "http_server"),
		now:  time.Now,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), logger.GinMiddleware(deps.Logger), corsMiddleware(deps.Config))
	s.engine = engine
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	authMW := Auth(s.deps.Config.Auth.JWTSecret)

	s.engine.GET("/healthz", s.handleHealth)

	s.engine.POST(journal.WebhookPath, s.handleJournalWebhook)
	s.engine.POST("/telegram-webhook", s.handleTelegramWebhook)

	api := s.engine.Group("", authMW)
	api.GET("/journal", s.handleListJournal)
	api.POST("/journal", s.handleCreateJournal)

	api.POST("/chat", s.handleChat)
	api.GET("/chat", s.handleListChats)
	api.GET("/chat/:id/messages", s.handleChatMessages)
	api.DELETE("/chat/:id", s.handleDeleteChat)

	api.POST("/telegram/link-code", s.handleLinkCode)
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Wait blocks until every Telegram update accepted by the webhook has been processed.
func (s *Server) Wait() {
	s.updates.Wait()
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.deps.Config.Server
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}

func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", journal.DevModeHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	origins := cfg.Server.AllowedOrigins
	if len(origins) > 0 && !cfg.IsDevelopment() {
		corsConfig.AllowOriginFunc = func(origin string) bool {
			return slices.Contains(origins, strings.TrimRight(origin, "/"))
		}
	} else {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	}
	return cors.New(corsConfig)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
		s.log.WarnContext(c.Request.Context(), "Health check failed", "error", err)
		respondError(c, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
