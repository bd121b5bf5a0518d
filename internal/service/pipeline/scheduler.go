package pipeline

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"lakemart/internal/domain"
)

// Scheduler triggers full pipeline runs on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	svc    *Service
	logger *slog.Logger
}

// NewScheduler creates a scheduler around the orchestrator. The schedule
// uses standard five-field cron syntax; an empty schedule disables it.
func NewScheduler(svc *Service, schedule string, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		svc:    svc,
		logger: logger,
	}
	if schedule == "" {
		return s, nil
	}

	_, err := s.cron.AddFunc(schedule, func() {
		ctx := context.Background()
		if _, runErr := s.svc.RunAll(ctx); runErr != nil {
			s.logger.Warn("scheduled run failed", "error", runErr)
		}
	})
	if err != nil {
		return nil, domain.ErrValidation("invalid cron schedule %q: %v", schedule, err)
	}
	s.logger.Info("scheduled pipeline", "schedule", schedule)
	return s, nil
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("pipeline scheduler started")
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("pipeline scheduler stopped")
}
