package perf

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/relay/migrations"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var backendColumns = []string{
	"id", "family", "base_url", "model", "enabled", "weight",
	"success_count", "failure_count", "total_requests",
	"avg_latency_ms", "avg_tokens_per_second", "error_rate",
	"last_used", "last_success", "last_failure",
	"created_at", "updated_at",
}

const upsertSuffix = `ON CONFLICT(id) DO UPDATE SET
	family = excluded.family,
	base_url = excluded.base_url,
	model = excluded.model,
	enabled = excluded.enabled,
	weight = excluded.weight,
	success_count = excluded.success_count,
	failure_count = excluded.failure_count,
	total_requests = excluded.total_requests,
	avg_latency_ms = excluded.avg_latency_ms,
	avg_tokens_per_second = excluded.avg_tokens_per_second,
	error_rate = excluded.error_rate,
	last_used = excluded.last_used,
	last_success = excluded.last_success,
	last_failure = excluded.last_failure,
	updated_at = excluded.updated_at`

// SQLiteStore keeps backend records in a SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLiteStore opens the database at path and applies pending migrations.
func OpenSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := migrations.Run(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLiteStore(db, logger), nil
}

// NewSQLiteStore wraps an already migrated database.
func NewSQLiteStore(db *sql.DB, logger zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "sqliteStore").Logger(),
	}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements Store.Load.
func (s *SQLiteStore) Load(ctx context.Context) ([]Backend, error) {
	queryStr, args, err := sq.Select(backendColumns...).From("backends").OrderBy("created_at", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var backends []Backend
	for rows.Next() {
		var (
			b                                  Backend
			lastUsed, lastSuccess, lastFailure int64
			createdAt, updatedAt               int64
		)
		err := rows.Scan(
			&b.ID, &b.Family, &b.BaseURL, &b.Model, &b.Enabled, &b.Weight,
			&b.Stats.SuccessCount, &b.Stats.FailureCount, &b.Stats.TotalRequests,
			&b.Stats.AvgLatencyMs, &b.Stats.AvgTokensPerSecond, &b.Stats.ErrorRate,
			&lastUsed, &lastSuccess, &lastFailure,
			&createdAt, &updatedAt,
		)
		if err != nil {
			return nil, err
		}
		b.Stats.LastUsed = fromMillis(lastUsed)
		b.Stats.LastSuccess = fromMillis(lastSuccess)
		b.Stats.LastFailure = fromMillis(lastFailure)
		b.CreatedAt = fromMillis(createdAt)
		b.UpdatedAt = fromMillis(updatedAt)
		backends = append(backends, b)
	}
	return backends, rows.Err()
}

// Save implements Store.Save. Rows are upserted in one transaction; rows for
// backends absent from the snapshot are left alone.
func (s *SQLiteStore) Save(ctx context.Context, backends []Backend) error {
	if len(backends) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	for _, b := range backends {
		queryStr, args, err := sq.Insert("backends").
			Columns(backendColumns...).
			Values(
				b.ID, b.Family, b.BaseURL, b.Model, b.Enabled, b.Weight,
				b.Stats.SuccessCount, b.Stats.FailureCount, b.Stats.TotalRequests,
				b.Stats.AvgLatencyMs, b.Stats.AvgTokensPerSecond, b.Stats.ErrorRate,
				toMillis(b.Stats.LastUsed), toMillis(b.Stats.LastSuccess), toMillis(b.Stats.LastFailure),
				toMillis(b.CreatedAt), toMillis(b.UpdatedAt),
			).
			Suffix(upsertSuffix).
			ToSql()
		if err != nil {
			return fmt.Errorf("build query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
			return fmt.Errorf("upsert backend %s: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

// Timestamps are stored as unix milliseconds; 0 means never.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
