// Package main contains the entrypoint for the digest service.
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

	"wadigest/internal/ai"
	"wadigest/internal/app"
	"wadigest/internal/config"
	"wadigest/internal/database"
	"wadigest/internal/digest"
	"wadigest/internal/logger"
	"wadigest/internal/pipeline"
	"wadigest/internal/scheduler"
	"wadigest/internal/server"
	"wadigest/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop() // Ensure context cancellation is signaled before exit
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger, db,
// AI client, Telegram bot, HTTP server, scheduler), handles graceful
// shutdown, and returns an exit code (0 for success, 1 for failure).
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
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	aiClient, err := ai.NewClient(ctx, cfg.AI, log)
	if err != nil {
		log.Error("Failed to initialize AI client", "error", err)
		return 1
	}

	tg, err := telegram.NewBot(cfg.Telegram.Token, log)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}
	notifier := telegram.NewNotifier(tg, log)

	pl := pipeline.New(store, aiClient, notifier, cfg.Digest.UrgentThreshold, log)
	digests := digest.NewService(store, aiClient, notifier,
		cfg.Digest.ImportanceThreshold, cfg.Digest.RetentionDays, log)

	sched, err := scheduler.NewScheduler(log)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	srv := server.New(cfg, store, pl, log)
	application := app.New(log, cfg, db, srv, pl, digests, sched)

	log.Info("Starting service...")
	runErr := application.Run(ctx)
	log.Info("Service run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Service stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Service stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
