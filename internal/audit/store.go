package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS api_calls (
	id          BIGSERIAL PRIMARY KEY,
	service     TEXT NOT NULL,
	version     TEXT NOT NULL,
	region      TEXT NOT NULL,
	action      TEXT NOT NULL,
	request_id  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error_type  TEXT NOT NULL DEFAULT '',
	error_code  TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 1,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	source      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_api_calls_service_created ON api_calls (service, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_api_calls_created ON api_calls (created_at);
`

const recordColumns = `id, service, version, region, action, request_id, status,
	error_type, error_code, message, attempts, duration_ms, source, created_at`

// Store reads and writes call records
type Store struct {
	db *DB
}

var _ Recorder = (*Store)(nil)

// NewStore creates a new call record store
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the api_calls table and its indexes if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Record inserts a call record and fills in its id
func (s *Store) Record(ctx context.Context, rec *CallRecord) error {
	if rec == nil || rec.Service == "" || rec.Action == "" {
		return ErrInvalidRecord
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO api_calls (service, version, region, action, request_id, status,
			error_type, error_code, message, attempts, duration_ms, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	err := s.db.pool.QueryRow(ctx, query,
		rec.Service, rec.Version, rec.Region, rec.Action, rec.RequestID, rec.Status,
		rec.ErrorType, rec.ErrorCode, rec.Message, rec.Attempts, rec.DurationMS, rec.Source, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}

	return nil
}

// Recent returns the newest records, optionally limited to one service
func (s *Store) Recent(ctx context.Context, service string, limit int) ([]CallRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT ` + recordColumns + ` FROM api_calls
		WHERE ($1 = '' OR service = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := s.db.pool.Query(ctx, query, service, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[CallRecord])
	if err != nil {
		return nil, fmt.Errorf("failed to scan calls: %w", err)
	}

	return records, nil
}

// Prune deletes records created before cutoff and reports how many were removed
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.pool.Exec(ctx, `DELETE FROM api_calls WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune calls: %w", err)
	}
	return tag.RowsAffected(), nil
}
