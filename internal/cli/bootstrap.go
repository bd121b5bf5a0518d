package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"lakemart/internal/app"
	"lakemart/internal/config"
	internaldb "lakemart/internal/db"
	"lakemart/internal/warehouse"
)

// runtime bundles everything a command needs after bootstrap.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	warehouse *sql.DB
	writeDB   *sql.DB
	readDB    *sql.DB
	app       *app.App
}

// setup loads config, opens the warehouse and metastore, runs migrations
// and wires the application.
func setup(ctx context.Context, envFile string) (*runtime, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	wh, err := warehouse.Open(ctx, cfg.WarehousePath)
	if err != nil {
		return nil, err
	}

	// writeDB: single-connection pool for serialized writes (WAL + txlock=immediate).
	// readDB:  4-connection pool for concurrent reads (WAL, no txlock).
	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.MetaDBPath, 4)
	if err != nil {
		wh.Close()
		return nil, fmt.Errorf("open metastore: %w", err)
	}

	if err := internaldb.RunMigrations(writeDB); err != nil {
		wh.Close()
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	a, err := app.New(ctx, app.Deps{
		Cfg:       cfg,
		Warehouse: wh,
		WriteDB:   writeDB,
		ReadDB:    readDB,
		Logger:    logger,
	})
	if err != nil {
		wh.Close()
		writeDB.Close()
		readDB.Close()
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		warehouse: wh,
		writeDB:   writeDB,
		readDB:    readDB,
		app:       a,
	}, nil
}

func (rt *runtime) Close() {
	rt.warehouse.Close()
	rt.writeDB.Close()
	rt.readDB.Close()
}
