// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

// Package library is the persistent movie library on DuckDB. One record per
// canonical TMDB id; all writes go through a single mutex so merges and
// dashboard edits never interleave.
package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/cinelog/internal/config"
	"github.com/tomtom215/cinelog/internal/logging"
)

// Store wraps the DuckDB connection holding the library.
type Store struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// writeMu serializes all mutating statements. DuckDB handles concurrent
	// readers fine, but library semantics require writes to be totally
	// ordered so a sync merge and a dashboard edit cannot interleave.
	writeMu sync.Mutex
}

// Open opens (creating if needed) the library database and initializes the
// schema.
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// DuckDB is in-process; a single connection avoids file-lock contention
	// between the pool's handles.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn, cfg: cfg}
	if err := s.createSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", threads).Msg("Library database opened")
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func (s *Store) createSchema() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS library (
			tmdb_id BIGINT PRIMARY KEY,
			imdb_id TEXT,
			title TEXT NOT NULL,
			year INTEGER,
			directors TEXT,
			poster_url TEXT,

			watched BOOLEAN NOT NULL DEFAULT FALSE,
			watchlist BOOLEAN NOT NULL DEFAULT FALSE,
			watched_date TIMESTAMP,
			rating DOUBLE,
			rewatch BOOLEAN NOT NULL DEFAULT FALSE,
			tags TEXT,
			review TEXT,

			locally_edited BOOLEAN NOT NULL DEFAULT FALSE,
			edited_fields TEXT,
			source_of_truth TEXT NOT NULL DEFAULT 'sync',

			last_synced_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_library_title ON library(title)`,
		`CREATE INDEX IF NOT EXISTS idx_library_year ON library(year)`,
		`CREATE INDEX IF NOT EXISTS idx_library_watched ON library(watched)`,
		`CREATE INDEX IF NOT EXISTS idx_library_watchlist ON library(watchlist)`,
		`CREATE INDEX IF NOT EXISTS idx_library_updated_at ON library(updated_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}
