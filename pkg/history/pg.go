package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore handles run history persistence using PostgreSQL
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPG connects to databaseURL and creates the schema if needed
func OpenPG(ctx context.Context, databaseURL string) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// one writer per finished run, a handful of readers
	config.MaxConns = 8
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return s, nil
}

// migrate creates the run table
func (s *PGStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS simulation_runs (
		id TEXT PRIMARY KEY,
		network TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		steps INTEGER NOT NULL DEFAULT 0,
		t_end DOUBLE PRECISION NOT NULL DEFAULT 0,
		error TEXT,
		em_modes INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_simulation_runs_started_at ON simulation_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_simulation_runs_network ON simulation_runs(network);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Record upserts a run summary
func (s *PGStore) Record(ctx context.Context, run Run) error {
	query := `
		INSERT INTO simulation_runs (id, network, status, started_at, finished_at, steps, t_end, error, em_modes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			steps = EXCLUDED.steps,
			t_end = EXCLUDED.t_end,
			error = EXCLUDED.error,
			em_modes = EXCLUDED.em_modes
	`

	_, err := s.pool.Exec(ctx, query,
		run.ID,
		run.Network,
		run.Status,
		run.StartedAt,
		run.FinishedAt,
		run.Steps,
		run.TEnd,
		run.Error,
		run.EMModes,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent lists runs newest first
func (s *PGStore) Recent(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, network, status, started_at, finished_at, steps, t_end, COALESCE(error, ''), em_modes
		FROM simulation_runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.ID,
			&r.Network,
			&r.Status,
			&r.StartedAt,
			&r.FinishedAt,
			&r.Steps,
			&r.TEnd,
			&r.Error,
			&r.EMModes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Ping checks database connectivity
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
