package monitoring

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// CycleRunner is what the scheduler drives; *Orchestrator satisfies it.
type CycleRunner interface {
	StartMonitoringCycle(ctx context.Context) (CycleSummary, error)
	RedeliverPending(ctx context.Context, limit int) (int, error)
}

// Scheduler triggers a monitoring cycle every interval. Each tick first
// retries alert deliveries left pending by earlier cycles.
type Scheduler struct {
	runner          CycleRunner
	interval        time.Duration
	logger          *slog.Logger
	runOnStart      bool
	redeliveryLimit int
}

type SchedulerOption func(*Scheduler)

// WithRunOnStart runs a cycle immediately instead of waiting one interval.
func WithRunOnStart() SchedulerOption {
	return func(s *Scheduler) {
		s.runOnStart = true
	}
}

// WithRedeliveryLimit caps how many pending alerts are retried per tick.
// Zero disables redelivery.
func WithRedeliveryLimit(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n >= 0 {
			s.redeliveryLimit = n
		}
	}
}

func NewScheduler(runner CycleRunner, interval time.Duration, logger *slog.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("cycle runner is required")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		runner:          runner,
		interval:        interval,
		logger:          logger,
		redeliveryLimit: 100,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.tick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick redelivers alerts left pending by earlier cycles, then runs a cycle.
// Alerts created by this tick's cycle wait for the next tick.
func (s *Scheduler) tick(ctx context.Context) {
	s.redeliver(ctx)

	summary, err := s.runner.StartMonitoringCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		s.logger.WarnContext(ctx, "skipping scheduled cycle, previous one still running")
	case err != nil && ctx.Err() == nil:
		s.logger.ErrorContext(ctx, "scheduled monitoring cycle failed", "cycle_id", summary.CycleID, "error", err)
	}
}

func (s *Scheduler) redeliver(ctx context.Context) {
	if s.redeliveryLimit == 0 || ctx.Err() != nil {
		return
	}
	sent, err := s.runner.RedeliverPending(ctx, s.redeliveryLimit)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		s.logger.DebugContext(ctx, "skipping redelivery, cycle running")
	case err != nil:
		s.logger.WarnContext(ctx, "pending alert redelivery failed", "error", err)
	case sent > 0:
		s.logger.InfoContext(ctx, "redelivered pending alerts", "count", sent)
	}
}
