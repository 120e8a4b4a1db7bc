// Package journal appends delegation outcomes to Postgres for offline
// analysis. It is strictly best-effort: a journal failure never fails the
// execution it describes.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS delegation_outcomes (
    id           UUID PRIMARY KEY,
    execution_id TEXT NOT NULL,
    pattern      TEXT,
    pattern_type TEXT,
    domain       TEXT,
    agent_type   TEXT,
    priority     INT,
    success      BOOLEAN NOT NULL,
    message      TEXT,
    duration_ms  BIGINT,
    created_at   TIMESTAMPTZ NOT NULL
)`

// Entry is one journaled delegation outcome.
type Entry struct {
	ExecutionID string
	Pattern     string
	PatternType string
	Domain      string
	AgentType   string
	Priority    int
	Success     bool
	Message     string
	DurationMs  int64
}

// Journal writes outcome rows to Postgres.
type Journal struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New connects to Postgres and ensures the outcomes table exists.
func New(dsn string, logger *zap.Logger) (*Journal, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	j := &Journal{db: db, logger: logger}
	if err := j.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewWithDB wraps an existing database handle, used by tests.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Journal {
	return &Journal{db: db, logger: logger}
}

func (j *Journal) ensureSchema() error {
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create outcomes table: %w", err)
	}
	return nil
}

// Append writes one outcome row. Errors are logged and counted, never
// returned to the execution path.
func (j *Journal) Append(ctx context.Context, e Entry) {
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO delegation_outcomes (
            id, execution_id, pattern, pattern_type, domain, agent_type,
            priority, success, message, duration_ms, created_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `, uuid.New(), e.ExecutionID, nullIfEmpty(e.Pattern), nullIfEmpty(e.PatternType),
		nullIfEmpty(e.Domain), nullIfEmpty(e.AgentType), e.Priority,
		e.Success, e.Message, e.DurationMs, time.Now())
	if err != nil {
		metrics.JournalWrites.WithLabelValues("error").Inc()
		j.logger.Warn("journal append failed",
			zap.String("execution_id", e.ExecutionID),
			zap.Error(err),
		)
		return
	}
	metrics.JournalWrites.WithLabelValues("ok").Inc()
}

// Ping reports whether the database is reachable, used by health checks.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
