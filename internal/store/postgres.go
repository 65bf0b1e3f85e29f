package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ TranscriptStore = (*Postgres)(nil)

const defaultRecentLimit = 50

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    TEXT         NOT NULL,
    text          TEXT         NOT NULL,
    audio_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session_id
    ON transcripts (session_id);

CREATE INDEX IF NOT EXISTS idx_transcripts_created_at
    ON transcripts (created_at);

CREATE INDEX IF NOT EXISTS idx_transcripts_fts
    ON transcripts USING GIN (to_tsvector('english', text));
`

// Postgres is the PostgreSQL-backed [TranscriptStore]. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres establishes a connection pool to the database at dsn and runs
// [Migrate] to ensure the transcripts table and its indexes exist.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates the transcripts table and its indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}
	return nil
}

// Save implements [TranscriptStore].
func (p *Postgres) Save(ctx context.Context, rec Record) (Record, error) {
	const q = `
		INSERT INTO transcripts (session_id, text, audio_seconds)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	row := p.pool.QueryRow(ctx, q, rec.SessionID, rec.Text, rec.AudioSeconds)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("store: save transcript: %w", err)
	}
	return rec, nil
}

// Recent implements [TranscriptStore].
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	const q = `
		SELECT id, session_id, text, audio_seconds, created_at
		FROM   transcripts
		ORDER  BY created_at DESC
		LIMIT  $1`

	rows, err := p.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return collectRecords(rows)
}

// Search implements [TranscriptStore]. It performs a PostgreSQL full-text
// search over the text column and applies optional filters from opts.
//
// The query is passed to plainto_tsquery so no special operator syntax is
// required.
func (p *Postgres) Search(ctx context.Context, query string, opts SearchOpts) ([]Record, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', text) @@ plainto_tsquery('english', $1)",
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(opts.Before))
	}

	q := "SELECT id, session_id, text, audio_seconds, created_at\n" +
		"FROM   transcripts\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY created_at DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return collectRecords(rows)
}

// Close releases all connections held by the underlying pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// collectRecords scans pgx rows into a slice of Record values.
func collectRecords(rows pgx.Rows) ([]Record, error) {
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.ID, &r.SessionID, &r.Text, &r.AudioSeconds, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan rows: %w", err)
	}
	return recs, nil
}
