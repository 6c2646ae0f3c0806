package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

// Outcome classifies one StoreIfNew call.
type Outcome int

const (
	// Stored means the record was new and is now persisted.
	Stored Outcome = iota
	// Duplicate means an identical record already existed for the session.
	// Duplicates are expected traffic, not errors.
	Duplicate
	// Unavailable means the store could not be reached or refused the write
	// for any reason other than the uniqueness constraint.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Duplicate:
		return "duplicate"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// ErrUnavailable marks storage faults. Callers that need more than the
// Unavailable outcome can errors.Is against it.
var ErrUnavailable = errors.New("store unavailable")

// CaptureRecord is one deduplicated capture. SessionID plus the two hashes
// form the uniqueness key; everything else is payload.
type CaptureRecord struct {
	SessionID  string
	Sequence   int
	CapturedAt time.Time
	Endpoint   string
	Texts      []string
	Objects    []extractor.Value
	TextHash   string
	JSONHash   string
	RawSize    int
	Format     string
}

// Gateway is the persistence port of the capture pipeline. Implementations
// enforce uniqueness of (session_id, text_hash, json_hash) at the storage
// layer so concurrent writers cannot race a check-then-insert.
type Gateway interface {
	// StoreIfNew persists the record unless an identical one already exists
	// for the session. The write is a single atomic operation against the
	// uniqueness constraint; a second identical call always yields Duplicate.
	StoreIfNew(ctx context.Context, rec *CaptureRecord) (Outcome, error)

	// LogSessionStart writes the session start marker.
	LogSessionStart(ctx context.Context, sessionID string) error

	// LogSessionEnd writes the session end marker with the exchange total.
	LogSessionEnd(ctx context.Context, sessionID string, totalRequests int) error

	// SessionStats reports persisted totals for a session: captures written,
	// distinct (text_hash, json_hash) pairs, and the difference.
	SessionStats(ctx context.Context, sessionID string) (SessionStats, error)

	Close(ctx context.Context) error
}

// SessionStats are store-side counts, derived from what actually landed in
// the collection rather than from in-memory counters.
type SessionStats struct {
	SessionID           string `json:"session_id"`
	TotalRequests       int    `json:"total_requests"`
	UniqueRequests      int    `json:"unique_requests"`
	DuplicatesPrevented int    `json:"duplicates_prevented"`
}

// New opens the configured driver and runs its capability check: connect,
// ping, and ensure the uniqueness constraint exists. Any failure here is a
// misconfiguration and the caller should treat it as fatal.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (Gateway, error) {
	switch cfg.StoreDriver {
	case "mongo":
		return newMongo(ctx, cfg.Mongo, logger)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("store driver postgres requires DATABASE_URL")
		}
		return newPostgres(ctx, cfg.DatabaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
