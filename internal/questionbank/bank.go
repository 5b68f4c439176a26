// Package questionbank stores previously asked interview questions in a
// PostgreSQL table with a pgvector HNSW index and retrieves questions that are
// semantically close to a candidate. The turn controller uses the results to
// steer the model away from repeating itself within a position.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS. All methods are safe for
// concurrent use.
package questionbank

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mockmate-ai/mockmate/internal/turn"
	"github.com/mockmate-ai/mockmate/pkg/provider/embeddings"
)

var _ turn.QuestionBank = (*Bank)(nil)

// defaultCutoff is the cosine distance below which two questions count as
// near-duplicates. Cosine distance ranges 0 (identical direction) to 2.
const defaultCutoff = 0.25

// ddlQuestions returns the questions DDL with the embedding dimension
// substituted. The dimension is baked into the column type at schema creation
// time and must match the configured embedding model.
func ddlQuestions(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS asked_questions (
    id         TEXT         PRIMARY KEY,
    position   TEXT         NOT NULL,
    question   TEXT         NOT NULL,
    embedding  vector(%d),
    asked_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (position, question)
);

CREATE INDEX IF NOT EXISTS idx_asked_questions_position
    ON asked_questions (position);

CREATE INDEX IF NOT EXISTS idx_asked_questions_embedding
    ON asked_questions USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the asked_questions table and its indexes exist.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlQuestions(embeddingDimensions)); err != nil {
		return fmt.Errorf("question bank: migrate: %w", err)
	}
	return nil
}

// Bank is the pgvector-backed question store. Obtain one via [New].
type Bank struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	cutoff   float64
}

// Option configures a [Bank].
type Option func(*Bank)

// WithCutoff overrides the cosine distance below which a stored question is
// reported by [Bank.Similar]. Values outside (0, 2] are ignored.
func WithCutoff(cutoff float64) Option {
	return func(b *Bank) {
		if cutoff > 0 && cutoff <= 2 {
			b.cutoff = cutoff
		}
	}
}

// New creates a [Bank], establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate]. The vector column dimension is taken from embedder.Dimensions().
func New(ctx context.Context, dsn string, embedder embeddings.Provider, opts ...Option) (*Bank, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("question bank: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("question bank: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("question bank: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embedder.Dimensions()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("question bank: %w", err)
	}

	b := &Bank{pool: pool, embedder: embedder, cutoff: defaultCutoff}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Record embeds question and upserts it for position. Re-recording an
// identical question for the same position refreshes its timestamp.
func (b *Bank) Record(ctx context.Context, position, question string) error {
	vec, err := b.embedder.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("question bank: embed: %w", err)
	}

	const q = `
		INSERT INTO asked_questions (id, position, question, embedding, asked_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (position, question) DO UPDATE SET
		    embedding = EXCLUDED.embedding,
		    asked_at  = now()`

	_, err = b.pool.Exec(ctx, q, uuid.NewString(), position, question, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("question bank: record: %w", err)
	}
	return nil
}

// Similar embeds the candidate question and returns up to limit stored
// questions for position whose cosine distance falls below the cutoff,
// ordered most similar first. An empty result means the candidate is safe
// to ask.
func (b *Bank) Similar(ctx context.Context, position, question string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	vec, err := b.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("question bank: embed: %w", err)
	}

	const q = `
		SELECT question
		FROM   asked_questions
		WHERE  position = $2
		  AND  embedding <=> $1 < $3
		ORDER  BY embedding <=> $1
		LIMIT  $4`

	rows, err := b.pool.Query(ctx, q, pgvector.NewVector(vec), position, b.cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("question bank: search: %w", err)
	}

	questions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("question bank: scan rows: %w", err)
	}
	return questions, nil
}

// Close releases all connections held by the underlying pool.
func (b *Bank) Close() {
	b.pool.Close()
}
