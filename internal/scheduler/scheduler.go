// Package scheduler wraps gocron to run the digest sweep and cleanup jobs
// on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// TaskFunc is a scheduled job body. Jobs handle their own failures, the
// scheduler only tracks execution.
type TaskFunc func(ctx context.Context)

// Scheduler manages scheduled tasks using the gocron library.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a new scheduler instance using gocron.
func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "scheduler")

	s, err := gocron.NewScheduler()
	if err != nil {
		log.Error("Failed to create gocron scheduler", "error", err)
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    log,
	}, nil
}

// AddJob registers a task on a cron schedule. The schedule uses the
// six-field form with a leading seconds field.
func (s *Scheduler) AddJob(name, schedule string, task TaskFunc) error {
	if schedule == "" {
		return fmt.Errorf("task %q has an empty schedule", name)
	}
	if task == nil {
		return fmt.Errorf("task %q has a nil function", name)
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(schedule, true), // true = seconds field present
		gocron.NewTask(
			func(ctx context.Context, taskName string) {
				s.logger.Info("Running scheduled task", "task_name", taskName)
				startTime := time.Now()
				task(ctx)
				s.logger.Info("Finished scheduled task",
					"task_name", taskName, "duration", time.Since(startTime))
			},
			context.Background(),
			name,
		),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule task %q (%s): %w", name, schedule, err)
	}

	s.logger.Info("Scheduled task", "task_name", name, "schedule", schedule)
	return nil
}

// Start begins the scheduler's internal ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "jobs", len(s.scheduler.Jobs()))
	return nil
}

// Stop gracefully stops the scheduler, waiting for running jobs to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Info("Scheduler is not running, nothing to stop.")
		return nil
	}

	s.logger.Debug("Stopping scheduler gracefully (waiting for jobs)...")
	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully.")
	}

	s.running = false
	return err
}
