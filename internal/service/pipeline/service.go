package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lakemart/internal/domain"
)

// StageFunc executes one stage and returns its counts. The run ID is
// assigned by the orchestrator before the stage starts.
type StageFunc func(ctx context.Context, runID string) (*domain.RunReport, error)

// Service runs stages in dependency order and persists a report per run.
type Service struct {
	stages  []StageDef
	byName  map[string]StageDef
	levels  [][]string
	runs    domain.RunRepository
	logger  *slog.Logger
	retries int
	mu      sync.Mutex // one pipeline run at a time
}

// NewService builds the orchestrator. Stage order is resolved once; an
// invalid graph is a wiring bug and fails construction.
func NewService(stages []StageDef, runs domain.RunRepository, retries int, logger *slog.Logger) (*Service, error) {
	levels, err := ResolveStageOrder(stages)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]StageDef, len(stages))
	for _, s := range stages {
		byName[s.Name] = s
	}
	return &Service{
		stages:  stages,
		byName:  byName,
		levels:  levels,
		runs:    runs,
		logger:  logger,
		retries: retries,
	}, nil
}

// RunStage executes a single stage by name and records its report.
func (s *Service) RunStage(ctx context.Context, name string) (*domain.RunReport, error) {
	def, ok := s.byName[name]
	if !ok {
		return nil, domain.ErrNotFound("unknown stage: %s", name)
	}
	return s.execute(ctx, def)
}

// RunAll executes every stage level by level. Stages within a level run
// concurrently. A stage failure skips everything downstream but lets the
// rest of the current level finish, so the reports stay complete.
func (s *Service) RunAll(ctx context.Context) ([]domain.RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reports []domain.RunReport
	var runErr error

	for _, level := range s.levels {
		if runErr != nil {
			break
		}

		results := make([]*domain.RunReport, len(level))
		g, gctx := errgroup.WithContext(ctx)
		for i, name := range level {
			def := s.byName[name]
			g.Go(func() error {
				report, err := s.execute(gctx, def)
				results[i] = report
				return err
			})
		}
		err := g.Wait()
		for _, r := range results {
			if r != nil {
				reports = append(reports, *r)
			}
		}
		if err != nil {
			runErr = err
		}
	}
	return reports, runErr
}

// Stages lists the configured stage names in execution order.
func (s *Service) Stages() []string {
	var names []string
	for _, level := range s.levels {
		names = append(names, level...)
	}
	return names
}

// execute runs one stage with transient-error retries and persists the
// report. Invariant violations and validation errors never retry.
func (s *Service) execute(ctx context.Context, def StageDef) (*domain.RunReport, error) {
	runID := uuid.NewString()
	logger := s.logger.With("stage", def.Name, "run_id", runID)

	pending := &domain.RunReport{
		ID:        runID,
		Stage:     def.Name,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.runs.Insert(ctx, pending); err != nil {
		return nil, fmt.Errorf("record run start: %w", err)
	}

	var report *domain.RunReport
	var lastErr error
	maxAttempts := s.retries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s...
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(backoff):
			}
			if ctx.Err() != nil {
				break
			}
			logger.Info("retrying stage", "attempt", attempt+1)
		}

		report, lastErr = def.Run(ctx, runID)
		if lastErr == nil {
			break
		}
		var transient *domain.TransientError
		if !errors.As(lastErr, &transient) {
			break
		}
		logger.Warn("stage attempt failed", "attempt", attempt+1, "error", lastErr)
	}

	if report == nil {
		report = &domain.RunReport{Stage: def.Name, StartedAt: pending.StartedAt}
	}
	report.ID = runID
	report.StartedAt = pending.StartedAt
	now := time.Now().UTC()
	report.FinishedAt = &now

	if lastErr != nil {
		report.Status = domain.RunStatusFailed
		msg := lastErr.Error()
		report.Error = &msg
		logger.Error("stage failed", "error", lastErr)
	} else {
		report.Status = domain.RunStatusSuccess
		logger.Info("stage finished",
			"rows_read", report.RowsRead,
			"rows_ingested", report.RowsIngested,
			"merged_new", report.MergedNew,
			"merged_updated", report.MergedUpdated,
			"unchanged", report.Unchanged,
			"quarantined", report.Quarantined,
			"failed_files", report.FailedFiles,
		)
	}

	if err := s.runs.Finish(ctx, report); err != nil {
		logger.Error("failed to record run report", "error", err)
	}
	return report, lastErr
}
