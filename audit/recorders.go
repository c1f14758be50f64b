package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface checks.
var (
	_ Recorder = (*SlogRecorder)(nil)
	_ Recorder = (*StoreRecorder)(nil)
	_ Recorder = (*PgxRecorder)(nil)
)

// SlogRecorder writes audit records to a structured logger. It is the
// default when no durable backend is configured.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a recorder writing to the given logger.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *SlogRecorder) Record(ctx context.Context, rec *Record) error {
	r.logger.InfoContext(ctx, "audit",
		slog.String("audit_id", rec.ID.String()),
		slog.String("actor", rec.Actor),
		slog.String("action", rec.Action),
		slog.String("target", rec.Target),
		slog.String("rationale", rec.Rationale),
		slog.String("outcome", rec.Outcome),
		slog.String("error", rec.Error),
	)
	return nil
}

// StoreRecorder appends audit records to a jobcore [Store], keeping the
// trail in the same backend as the jobs themselves.
type StoreRecorder struct {
	store Store
}

// NewStoreRecorder creates a recorder backed by the given store.
func NewStoreRecorder(store Store) *StoreRecorder {
	return &StoreRecorder{store: store}
}

// Record implements Recorder.
func (r *StoreRecorder) Record(ctx context.Context, rec *Record) error {
	return r.store.AppendAudit(ctx, rec)
}

// PgxRecorder appends audit records to a dedicated Postgres table,
// for deployments that keep their audit trail outside the job store.
type PgxRecorder struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgxRecorder creates a recorder writing to table (default
// "jobcore_audit") in the given pool.
func NewPgxRecorder(pool *pgxpool.Pool, table string) *PgxRecorder {
	if table == "" {
		table = "jobcore_audit"
	}
	return &PgxRecorder{pool: pool, table: table}
}

// Migrate creates the audit table if it does not exist.
func (r *PgxRecorder) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			actor      TEXT NOT NULL,
			action     TEXT NOT NULL,
			target     TEXT NOT NULL,
			rationale  TEXT NOT NULL DEFAULT '',
			outcome    TEXT NOT NULL,
			error      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`, r.table)
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Record implements Recorder.
func (r *PgxRecorder) Record(ctx context.Context, rec *Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, actor, action, target, rationale, outcome, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, r.table)
	_, err := r.pool.Exec(ctx, query,
		rec.ID.String(), rec.Actor, rec.Action, rec.Target,
		rec.Rationale, rec.Outcome, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}
