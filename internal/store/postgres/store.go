// Package postgres is the relational store for sync connections and job
// records (component J), grounded on the teacher's
// pkg/storage/postgres/base_store.go: a thin *sql.DB wrapper, no ORM,
// context-aware queries throughout.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/syncforge/core/internal/config"
)

// ErrNotFound is returned by Get* methods when no row matches.
var ErrNotFound = errors.New("postgres: record not found")

// Open opens a *sql.DB against cfg and applies its pool settings.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	return db, nil
}

// SyncConnection is a configured, schedulable link between one source and
// one destination for one tenant's collection. REST/auth/tenancy/config
// loading around this record are out of scope (spec §6); the store only
// persists the fields the orchestrator and scheduler need.
type SyncConnection struct {
	ID                 string
	TenantID           string
	SourceShortName    string
	DestinationName    string
	CronExpression     string
	SupportsContinuous bool
	LastRunAt          sql.NullTime
	CreatedAt          time.Time
}

// SyncJob is one run of a SyncConnection.
type SyncJob struct {
	ID                string
	SyncConnectionID  string
	Status            string
	EntitiesProcessed int64
	EntitiesFailed    int64
	FailureReason     sql.NullString
	StartedAt         time.Time
	FinishedAt        sql.NullTime
}

// Store wraps *sql.DB with the queries the orchestrator and scheduler
// need against sync_connections and sync_jobs.
type Store struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetSyncConnection(ctx context.Context, id string) (*SyncConnection, error) {
	const q = `
		SELECT id, tenant_id, source_short_name, destination_name, cron_expression,
		       supports_continuous, last_run_at, created_at
		FROM sync_connections WHERE id = $1`

	var c SyncConnection
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID, &c.TenantID, &c.SourceShortName, &c.DestinationName, &c.CronExpression,
		&c.SupportsContinuous, &c.LastRunAt, &c.CreatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("get sync connection: %w", err)
	}
	return &c, nil
}

// ListDueSyncConnections returns every connection whose cron schedule
// the scheduler has determined is due, identified by id. The scheduler
// computes "due" itself (via robfig/cron) and passes the resulting ids;
// this is a thin batch-fetch to avoid N+1 queries against the caller's
// own per-second poll.
func (s *Store) ListDueSyncConnections(ctx context.Context, ids []string) ([]SyncConnection, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const q = `
		SELECT id, tenant_id, source_short_name, destination_name, cron_expression,
		       supports_continuous, last_run_at, created_at
		FROM sync_connections WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, q, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list due sync connections: %w", err)
	}
	defer rows.Close()

	var out []SyncConnection
	for rows.Next() {
		var c SyncConnection
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.SourceShortName, &c.DestinationName, &c.CronExpression,
			&c.SupportsContinuous, &c.LastRunAt, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sync connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) TouchLastRun(ctx context.Context, connectionID string, at time.Time) error {
	const q = `UPDATE sync_connections SET last_run_at = $2 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, q, connectionID, at)
	if err != nil {
		return fmt.Errorf("touch last run: %w", err)
	}
	return nil
}

func (s *Store) CreateSyncJob(ctx context.Context, job SyncJob) error {
	const q = `
		INSERT INTO sync_jobs (id, sync_connection_id, status, started_at)
		VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, q, job.ID, job.SyncConnectionID, job.Status, job.StartedAt)
	if err != nil {
		return fmt.Errorf("create sync job: %w", err)
	}
	return nil
}

// PersistTerminal writes a job's terminal status; it is idempotent on
// jobID, so the workflow layer's retry of PersistTerminalActivity never
// double-applies a terminal status incorrectly (a later call simply
// overwrites with the same values).
func (s *Store) PersistTerminal(ctx context.Context, jobID, status string, entitiesProcessed, entitiesFailed int64, failureReason string) error {
	const q = `
		UPDATE sync_jobs
		SET status = $2, entities_processed = $3, entities_failed = $4,
		    failure_reason = NULLIF($5, ''), finished_at = now()
		WHERE id = $1`
	_, err := s.db.ExecContext(ctx, q, jobID, status, entitiesProcessed, entitiesFailed, failureReason)
	if err != nil {
		return fmt.Errorf("persist terminal job status: %w", err)
	}
	return nil
}

func (s *Store) GetSyncJob(ctx context.Context, id string) (*SyncJob, error) {
	const q = `
		SELECT id, sync_connection_id, status, entities_processed, entities_failed,
		       failure_reason, started_at, finished_at
		FROM sync_jobs WHERE id = $1`

	var j SyncJob
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&j.ID, &j.SyncConnectionID, &j.Status, &j.EntitiesProcessed, &j.EntitiesFailed,
		&j.FailureReason, &j.StartedAt, &j.FinishedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("get sync job: %w", err)
	}
	return &j, nil
}
