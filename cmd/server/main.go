// Package main contains the entrypoint for the mindjournal API server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbot "github.com/go-telegram/bot"

	"github.com/edgard/mindjournal/internal/app"
	"github.com/edgard/mindjournal/internal/app/tasks"
	"github.com/edgard/mindjournal/internal/chat"
	"github.com/edgard/mindjournal/internal/config"
	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/gemini"
	"github.com/edgard/mindjournal/internal/journal"
	"github.com/edgard/mindjournal/internal/logger"
	"github.com/edgard/mindjournal/internal/server"
	"github.com/edgard/mindjournal/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires every component, serves until ctx is cancelled and returns the
// process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON, "environment", cfg.Environment)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	gemClient, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	dispatcher := journal.NewDispatcher(cfg.Enrichment.Secret, cfg.Enrichment.Timeout, log)
	targets := journal.NewTargets(cfg)
	journalSvc := journal.NewService(store, gemClient, dispatcher, log)
	chatSvc := chat.NewService(store, gemClient, chat.Limits{
		Journal:    cfg.Chat.JournalLimit,
		Activities: cfg.Chat.ActivityLimit,
		Facts:      cfg.Chat.FactLimit,
		History:    cfg.Chat.HistoryLimit,
	}, log)

	updateHandler := telegram.NewHandler(telegram.HandlerDeps{
		Logger:    log,
		Store:     store,
		Replier:   chatSvc,
		Messages:  cfg.Telegram.Messages,
		History:   cfg.Telegram.HistoryLimit,
		AITimeout: cfg.Gemini.Timeout,
	})
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log,
		tgbot.WithSkipGetMe(),
		tgbot.WithNotAsyncHandlers(),
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(updateHandler.Handle),
	)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	srv := server.New(server.Deps{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Journal:  journalSvc,
		Targets:  targets,
		Chat:     chatSvc,
		Telegram: tg,
	})

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:       log,
		Store:        store,
		GeminiClient: gemClient,
		Journal:      journalSvc,
		Targets:      targets,
		Config:       cfg,
	})
	sched, err := app.NewScheduler(log, &cfg.Scheduler, taskMap)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	log.Info("Starting mindjournal...")
	runErr := app.New(log, srv, sched, srv, dispatcher).Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Server stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Server stopped gracefully.")
	return 0
}
