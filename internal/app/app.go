// Package app wires the service components together and manages their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"wadigest/internal/config"
	"wadigest/internal/digest"
	"wadigest/internal/pipeline"
	"wadigest/internal/scheduler"
	"wadigest/internal/server"
)

// App represents the digest service and manages its components' lifecycle.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	server    *server.Server
	pipeline  *pipeline.Pipeline
	digests   *digest.Service
	scheduler *scheduler.Scheduler
}

// New creates the application from its already constructed components.
func New(
	logger *slog.Logger,
	cfg *config.Config,
	db *sqlx.DB,
	srv *server.Server,
	pl *pipeline.Pipeline,
	digests *digest.Service,
	sched *scheduler.Scheduler,
) *App {
	return &App{
		logger:    logger.With("component", "app"),
		cfg:       cfg,
		db:        db,
		server:    srv,
		pipeline:  pl,
		digests:   digests,
		scheduler: sched,
	}
}

// Run starts the HTTP server and the scheduler, then blocks until the
// context is cancelled or a component fails. Shutdown drains in-flight
// requests, waits for running jobs, and flushes queued message analysis.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting service...")

	if err := a.scheduler.AddJob("digest_sweep", a.cfg.Digest.SweepSchedule, a.digests.RunSweep); err != nil {
		return err
	}
	if err := a.scheduler.AddJob("daily_cleanup", a.cfg.Digest.CleanupSchedule, a.digests.RunCleanup); err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			a.logger.Error("HTTP server failed", "error", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Error shutting down HTTP server", "error", err)
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
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

	a.logger.Info("Service running. Waiting for shutdown signal or error...")
	err := g.Wait()

	a.logger.Info("Waiting for queued message analysis to finish...")
	a.pipeline.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Service stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Service stopped gracefully.")
	return nil
}
