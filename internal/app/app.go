// Package app provides application-level wiring and dependency injection
// for the lakemart ETL following hexagonal architecture.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"lakemart/internal/config"
	"lakemart/internal/db/repository"
	"lakemart/internal/domain"
	"lakemart/internal/service/conform"
	"lakemart/internal/service/fact"
	"lakemart/internal/service/ingest"
	"lakemart/internal/service/merge"
	"lakemart/internal/service/pipeline"
	"lakemart/internal/source"
	"lakemart/internal/warehouse"
)

// Streams are the ingestion streams, one per source entity. Stream IDs
// double as the bronze table suffix and the container subpath.
var Streams = []string{
	string(domain.EntityCustomers),
	string(domain.EntityProducts),
	string(domain.EntityOrders),
}

// Deps holds the external dependencies that main() must provide.
// These are things the app package cannot (or should not) create itself:
// database handles, config, and the logger.
type Deps struct {
	Cfg       *config.Config
	Warehouse *sql.DB
	WriteDB   *sql.DB
	ReadDB    *sql.DB
	Logger    *slog.Logger
}

// App holds the fully-wired application: the orchestrator, the scheduler,
// and the repositories the API handler needs directly.
type App struct {
	Pipeline    *pipeline.Service
	Scheduler   *pipeline.Scheduler
	Checkpoints domain.CheckpointRepository
	Runs        domain.RunRepository
	Quarantine  domain.QuarantineRepository
}

// New wires all repositories, services, and the stage graph from the
// provided deps.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg

	if err := warehouse.EnsureSchemas(ctx, deps.Warehouse); err != nil {
		return nil, fmt.Errorf("ensure warehouse schemas: %w", err)
	}

	// === Repositories — write-pool for repos that INSERT/UPDATE/DELETE,
	// read-pool for the API's list endpoints ===
	checkpointRepo := repository.NewCheckpointRepo(deps.WriteDB)
	runRepo := repository.NewRunRepo(deps.WriteDB)
	quarantineRepo := repository.NewQuarantineRepo(deps.WriteDB)
	runReadRepo := repository.NewRunRepo(deps.ReadDB)
	quarantineReadRepo := repository.NewQuarantineRepo(deps.ReadDB)

	// === Source containers, one per stream ===
	ingestSvcs := make(map[string]*ingest.Service, len(Streams))
	for _, stream := range Streams {
		container, err := source.New(ctx, cfg.SourceConfig(stream))
		if err != nil {
			return nil, fmt.Errorf("source container for %s: %w", stream, err)
		}
		ingestSvcs[stream] = ingest.NewService(
			container, checkpointRepo, deps.Warehouse,
			deps.Logger.With("component", "ingest"),
		)
	}

	// === Transform and merge services ===
	tieBreak := conform.TieBreakLastWins
	if cfg.TieBreak == "first" {
		tieBreak = conform.TieBreakFirstWins
	}
	conformSvc := conform.NewService(deps.Warehouse, quarantineRepo, tieBreak,
		deps.Logger.With("component", "conform"))

	var expectations []merge.Expectation
	if cfg.ExpectationsPath != "" {
		var err error
		expectations, err = merge.LoadExpectations(cfg.ExpectationsPath)
		if err != nil {
			return nil, fmt.Errorf("load expectations: %w", err)
		}
	}
	gate, err := merge.NewGate(expectations)
	if err != nil {
		return nil, fmt.Errorf("compile expectations: %w", err)
	}

	scd1 := merge.NewSCD1Engine(deps.Warehouse, deps.Logger.With("component", "scd1"))
	scd2 := merge.NewSCD2Engine(deps.Warehouse, gate, quarantineRepo,
		deps.Logger.With("component", "scd2"))
	factSvc := fact.NewService(deps.Warehouse, quarantineRepo,
		deps.Logger.With("component", "fact"))

	// === Stage graph ===
	stages := []pipeline.StageDef{
		{
			Name: domain.StageIngest,
			Run: func(ctx context.Context, runID string) (*domain.RunReport, error) {
				combined := &domain.RunReport{Stage: domain.StageIngest, StartedAt: time.Now().UTC()}
				for _, stream := range Streams {
					report, err := ingestSvcs[stream].Run(ctx, stream)
					if report != nil {
						combined.Merge(report)
					}
					if err != nil {
						return combined, err
					}
				}
				return combined, nil
			},
		},
		{
			Name:      domain.StageConform,
			DependsOn: []string{domain.StageIngest},
			Run:       conformSvc.Run,
		},
		{
			Name:      domain.StageSCD1,
			DependsOn: []string{domain.StageConform},
			Run: func(ctx context.Context, _ string) (*domain.RunReport, error) {
				return scd1.Run(ctx, merge.DimCustomers)
			},
		},
		{
			Name:      domain.StageSCD2,
			DependsOn: []string{domain.StageConform},
			Run: func(ctx context.Context, runID string) (*domain.RunReport, error) {
				return scd2.Run(ctx, runID, merge.DimProducts)
			},
		},
		{
			Name:      domain.StageFact,
			DependsOn: []string{domain.StageSCD1, domain.StageSCD2},
			Run:       factSvc.Run,
		},
	}

	pipeSvc, err := pipeline.NewService(stages, runRepo, cfg.StageRetries,
		deps.Logger.With("component", "pipeline"))
	if err != nil {
		return nil, err
	}

	scheduler, err := pipeline.NewScheduler(pipeSvc, cfg.Schedule,
		deps.Logger.With("component", "scheduler"))
	if err != nil {
		return nil, err
	}

	return &App{
		Pipeline:    pipeSvc,
		Scheduler:   scheduler,
		Checkpoints: checkpointRepo,
		Runs:        runReadRepo,
		Quarantine:  quarantineReadRepo,
	}, nil
}
