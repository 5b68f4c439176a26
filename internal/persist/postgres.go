package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by [Store.LoadFinalRecord] when no record exists
// for the session id.
var ErrNotFound = errors.New("persist: record not found")

const ddlInterviewRecords = `
CREATE TABLE IF NOT EXISTS interview_records (
    session_id   TEXT         PRIMARY KEY,
    interview_id TEXT         NOT NULL,
    user_id      TEXT         NOT NULL,
    position     TEXT         NOT NULL DEFAULT '',
    mode         TEXT         NOT NULL DEFAULT '',
    transcript   JSONB        NOT NULL DEFAULT '[]',
    feedback     JSONB        NOT NULL DEFAULT '[]',
    evaluation   JSONB        NOT NULL DEFAULT '{}',
    ended_at     TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interview_records_interview_id
    ON interview_records (interview_id);

CREATE INDEX IF NOT EXISTS idx_interview_records_user_id
    ON interview_records (user_id);
`

// Migrate creates or ensures the interview_records table exists. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlInterviewRecords); err != nil {
		return fmt.Errorf("persist: migrate: %w", err)
	}
	return nil
}

// Store is the PostgreSQL sink for finished sessions. Obtain one via
// [NewStore]. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Pool exposes the underlying connection pool for health probes.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// SaveFinalRecord upserts rec. A session that somehow ends twice keeps the
// latest outcome.
func (s *Store) SaveFinalRecord(ctx context.Context, rec FinalRecord) error {
	const q = `
		INSERT INTO interview_records
		    (session_id, interview_id, user_id, position, mode, transcript, feedback, evaluation, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
		    interview_id = EXCLUDED.interview_id,
		    user_id      = EXCLUDED.user_id,
		    position     = EXCLUDED.position,
		    mode         = EXCLUDED.mode,
		    transcript   = EXCLUDED.transcript,
		    feedback     = EXCLUDED.feedback,
		    evaluation   = EXCLUDED.evaluation,
		    ended_at     = EXCLUDED.ended_at`

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.InterviewID,
		rec.UserID,
		rec.Position,
		rec.Mode,
		rec.Transcript,
		rec.Feedback,
		rec.Evaluation,
		rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("persist: save final record: %w", err)
	}
	return nil
}

// LoadFinalRecord fetches the stored record for sessionID. Returns
// [ErrNotFound] if the session was never persisted.
func (s *Store) LoadFinalRecord(ctx context.Context, sessionID string) (FinalRecord, error) {
	const q = `
		SELECT session_id, interview_id, user_id, position, mode,
		       transcript, feedback, evaluation, ended_at
		FROM   interview_records
		WHERE  session_id = $1`

	var rec FinalRecord
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&rec.SessionID,
		&rec.InterviewID,
		&rec.UserID,
		&rec.Position,
		&rec.Mode,
		&rec.Transcript,
		&rec.Feedback,
		&rec.Evaluation,
		&rec.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return FinalRecord{}, ErrNotFound
	}
	if err != nil {
		return FinalRecord{}, fmt.Errorf("persist: load final record: %w", err)
	}
	return rec, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
