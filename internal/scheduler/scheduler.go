// Package scheduler triggers the daily reconciliation batch.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/tuckkiez/consent-dashboard/internal/config"
	"github.com/tuckkiez/consent-dashboard/internal/logging"
)

// Scheduler runs one job per day at a fixed local time. Runs are serialized
// by the single scheduler goroutine; there is no cross-trigger lock, so a
// concurrent manual trigger for the same date is last-writer-wins.
type Scheduler struct {
	cfg config.BatchConfig
	run func(ctx context.Context) error
	log *slog.Logger
}

// New creates a scheduler around the daily batch function.
func New(cfg config.BatchConfig, run func(ctx context.Context) error) *Scheduler {
	return &Scheduler{
		cfg: cfg,
		run: run,
		log: logging.Component("scheduler"),
	}
}

// Start blocks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("daily batch disabled")
		<-ctx.Done()
		return nil
	}

	cron := gocron.NewScheduler(time.Local)

	_, err := cron.Every(1).Day().At(s.cfg.At).Do(func() {
		s.log.Info("daily batch triggered", "at", s.cfg.At)
		if err := s.run(ctx); err != nil {
			s.log.Error("daily batch failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule daily batch at %s: %w", s.cfg.At, err)
	}

	s.log.Info("daily batch scheduled", "at", s.cfg.At)
	cron.StartAsync()

	<-ctx.Done()
	cron.Stop()
	s.log.Info("scheduler stopped")
	return nil
}
