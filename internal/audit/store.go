// Package audit records every redaction run handled by the service in Postgres.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/pdf-redactor/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS redaction_runs (
	id                 BIGSERIAL PRIMARY KEY,
	request_id         TEXT NOT NULL,
	source_name        TEXT NOT NULL,
	source_digest      TEXT NOT NULL,
	status             TEXT NOT NULL,
	reason             TEXT NOT NULL DEFAULT '',
	error              TEXT NOT NULL DEFAULT '',
	patterns           TEXT[] NOT NULL DEFAULT '{}',
	total_matches      INTEGER NOT NULL DEFAULT 0,
	pages_processed    INTEGER NOT NULL DEFAULT 0,
	pages_modified     INTEGER NOT NULL DEFAULT 0,
	patterns_used      INTEGER NOT NULL DEFAULT 0,
	matches_by_pattern JSONB NOT NULL DEFAULT '{}',
	cache_hit          BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms        DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_redaction_runs_created_at ON redaction_runs (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_redaction_runs_digest ON redaction_runs (source_digest);`

// Store handles audit storage operations with PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database and ensures the audit table exists
func NewStore(cfg config.AuditConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &Store{
		db:     db,
		logger: logger.With(zap.String("component", "audit")),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	store.logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_connections", cfg.MaxConnections))

	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Record inserts run and fills in its ID and creation time
func (s *Store) Record(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO redaction_runs (
			request_id, source_name, source_digest, status, reason, error, patterns,
			total_matches, pages_processed, pages_modified, patterns_used,
			matches_by_pattern, cache_hit, duration_ms)
		VALUES (
			:request_id, :source_name, :source_digest, :status, :reason, :error, :patterns,
			:total_matches, :pages_processed, :pages_modified, :patterns_used,
			:matches_by_pattern, :cache_hit, :duration_ms)
		RETURNING id, created_at`

	rows, err := s.db.NamedQueryContext(ctx, query, run)
	if err != nil {
		s.logger.Error("Failed to record run",
			zap.Error(err),
			zap.String("request_id", run.RequestID))
		return fmt.Errorf("failed to record run: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&run.ID, &run.CreatedAt); err != nil {
			return fmt.Errorf("failed to read inserted run: %w", err)
		}
	}

	s.logger.Debug("Run recorded",
		zap.Int64("id", run.ID),
		zap.String("request_id", run.RequestID),
		zap.String("status", run.Status))
	return rows.Err()
}

// Recent returns the latest runs, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var runs []*Run
	query := `SELECT * FROM redaction_runs ORDER BY created_at DESC, id DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetStats returns aggregate statistics over all recorded runs
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	query := `
		SELECT
			COUNT(*) AS total_runs,
			COUNT(CASE WHEN status = 'completed' THEN 1 END) AS completed_runs,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) AS failed_runs,
			COALESCE(SUM(total_matches), 0) AS total_matches,
			COALESCE(AVG(duration_ms), 0) AS avg_duration_ms
		FROM redaction_runs`

	if err := s.db.GetContext(ctx, stats, query); err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}
	return stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
