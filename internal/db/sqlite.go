// Package db provides metastore connectivity helpers and migration support.
//
// The metastore is a SQLite file holding the checkpoint ledger, run
// reports, and quarantined rows. Warehouse data lives in DuckDB, not here.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Pool modes for OpenSQLite.
const (
	ModeWrite = "write"
	ModeRead  = "read"
)

// OpenSQLite opens a *sql.DB pool on the metastore file.
//
// ModeWrite pins the pool to a single connection and takes the write lock
// eagerly (_txlock=immediate), which serializes checkpoint commits and
// run-report writes. ModeRead opens maxOpen connections (0 means 4) for
// the API's list endpoints. Both modes run WAL with a 5s busy timeout.
func OpenSQLite(path string, mode string, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	db, err := sql.Open("sqlite3", metastoreDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open metastore (%s): %w", mode, err)
	}

	if mode == ModeWrite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if maxOpen <= 0 {
			maxOpen = 4
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping metastore (%s): %w", mode, err)
	}
	return db, nil
}

// OpenSQLitePair opens the write pool and a read pool on the same
// metastore file.
func OpenSQLitePair(path string, readMaxOpen int) (writeDB, readDB *sql.DB, err error) {
	writeDB, err = OpenSQLite(path, ModeWrite, 0)
	if err != nil {
		return nil, nil, err
	}
	readDB, err = OpenSQLite(path, ModeRead, readMaxOpen)
	if err != nil {
		_ = writeDB.Close()
		return nil, nil, err
	}
	return writeDB, readDB, nil
}

func metastoreDSN(path, mode string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_synchronous", "NORMAL")
	params.Set("_foreign_keys", "on")
	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}
