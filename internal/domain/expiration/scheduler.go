package expiration

import (
	"context"
	"log/slog"
	"time"
)

// Runner is the part of Job the scheduler depends on.
type Runner interface {
	Run(ctx context.Context) Summary
}

// Scheduler triggers a Runner on a fixed interval. Ticks that overlap a
// slow run are safe because each run is a single atomic update.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled. A non-positive interval disables the
// loop and Run returns immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.InfoContext(ctx, "Trial expiration scheduler disabled")
		return nil
	}
	s.logger.InfoContext(ctx, "Trial expiration scheduler started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Trial expiration scheduler stopped")
			return nil
		case <-ticker.C:
			summary := s.runner.Run(ctx)
			if !summary.Success {
				s.logger.WarnContext(ctx, "Scheduled trial expiration reported errors",
					slog.Any("errors", summary.Errors))
			}
		}
	}
}
