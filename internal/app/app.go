// Package app wires the HTTP server, the scheduler and the background
// workers into one lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// HTTPServer serves requests until its context is cancelled.
type HTTPServer interface {
	Run(ctx context.Context) error
}

// Drainer waits for in-flight background work to finish.
type Drainer interface {
	Wait()
}

// App owns the long-running components.
type App struct {
	logger    *slog.Logger
	server    HTTPServer
	scheduler *Scheduler
	drainers  []Drainer
}

// New creates the application orchestrator. drainers are waited on, in
// order, once the server and scheduler have stopped; nil entries are skipped.
func New(logger *slog.Logger, server HTTPServer, scheduler *Scheduler, drainers ...Drainer) *App {
	return &App{
		logger:    logger.With("component", "app_orchestrator"),
		server:    server,
		scheduler: scheduler,
		drainers:  drainers,
	}
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails. Background work is drained before it returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Run(gCtx); err != nil {
			return fmt.Errorf("http server stopped: %w", err)
		}
		if gCtx.Err() == nil {
			return fmt.Errorf("http server stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("Starting scheduler...")
		if err := a.scheduler.Start(); err != nil {
			a.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()

	a.logger.Info("Waiting for background work to finish...")
	for _, d := range a.drainers {
		if d != nil {
			d.Wait()
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}
