package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgOpTimeout bounds individual statements so a wedged connection resolves
// to Unavailable instead of blocking the pipeline.
const pgOpTimeout = 5 * time.Second

type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func newPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{pool: pool, logger: logger}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("postgres connected")
	return p, nil
}

// ensureSchema creates the capture table with its uniqueness index and the
// session event table. Idempotent, safe across restarts.
func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS captures (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			request_number INT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			endpoint TEXT NOT NULL DEFAULT '',
			extracted_texts JSONB NOT NULL,
			json_objects JSONB NOT NULL,
			json_objects_count INT NOT NULL,
			raw_size_bytes INT NOT NULL,
			payload_format TEXT NOT NULL DEFAULT '',
			text_hash TEXT NOT NULL,
			json_hash TEXT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS captures_dedup_idx
			ON captures (session_id, text_hash, json_hash);
		CREATE INDEX IF NOT EXISTS captures_session_idx
			ON captures (session_id);
		CREATE TABLE IF NOT EXISTS session_events (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			event TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			total_requests INT
		);
		CREATE INDEX IF NOT EXISTS session_events_session_idx
			ON session_events (session_id);
	`)
	return err
}

func (p *Postgres) StoreIfNew(ctx context.Context, rec *CaptureRecord) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, pgOpTimeout)
	defer cancel()

	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = time.Now().UTC()
	}

	texts, err := json.Marshal(rec.Texts)
	if err != nil {
		return Unavailable, fmt.Errorf("marshal texts: %w", err)
	}
	objects, err := json.Marshal(rec.Objects)
	if err != nil {
		return Unavailable, fmt.Errorf("marshal objects: %w", err)
	}

	tag, err := p.pool.Exec(ctx, `
		INSERT INTO captures (id, session_id, request_number, captured_at,
			endpoint, extracted_texts, json_objects, json_objects_count,
			raw_size_bytes, payload_format, text_hash, json_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id, text_hash, json_hash) DO NOTHING`,
		uuid.New(), rec.SessionID, rec.Sequence, rec.CapturedAt,
		rec.Endpoint, string(texts), string(objects), len(rec.Objects),
		rec.RawSize, rec.Format, rec.TextHash, rec.JSONHash,
	)
	if err != nil {
		return Unavailable, fmt.Errorf("%w: insert capture: %w", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return Duplicate, nil
	}
	return Stored, nil
}

func (p *Postgres) LogSessionStart(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, pgOpTimeout)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO session_events (id, session_id, event, occurred_at)
		VALUES ($1, $2, 'session_start', $3)`,
		uuid.New(), sessionID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert session start: %w", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) LogSessionEnd(ctx context.Context, sessionID string, totalRequests int) error {
	ctx, cancel := context.WithTimeout(ctx, pgOpTimeout)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO session_events (id, session_id, event, occurred_at, total_requests)
		VALUES ($1, $2, 'session_end', $3, $4)`,
		uuid.New(), sessionID, time.Now().UTC(), totalRequests,
	)
	if err != nil {
		return fmt.Errorf("%w: insert session end: %w", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) SessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
	ctx, cancel := context.WithTimeout(ctx, pgOpTimeout)
	defer cancel()

	var total, unique int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*), count(DISTINCT (text_hash, json_hash))
		FROM captures WHERE session_id = $1`,
		sessionID,
	).Scan(&total, &unique)
	if err != nil {
		return SessionStats{}, fmt.Errorf("%w: query session stats: %w", ErrUnavailable, err)
	}

	return SessionStats{
		SessionID:           sessionID,
		TotalRequests:       total,
		UniqueRequests:      unique,
		DuplicatesPrevented: total - unique,
	}, nil
}

func (p *Postgres) Close(ctx context.Context) error {
	p.pool.Close()
	return nil
}
