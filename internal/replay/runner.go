package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/pipeline"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// Config holds the replay command configuration.
type Config struct {
	File      string // framed raw artifact log to re-feed
	SessionID string // target session; derived from the file name when empty
}

// Runner re-feeds a raw artifact log through the capture pipeline. Replaying
// into the session the log was written for makes the store's constraint
// collapse everything it already holds, so only the exchanges lost to an
// outage are stored.
type Runner struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

func NewRunner(cfg Config, p *pipeline.Pipeline, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		pipeline: p,
		logger:   logger,
	}
}

// Run parses the log and replays every frame in order.
func (r *Runner) Run(ctx context.Context) error {
	f, err := os.Open(r.cfg.File)
	if err != nil {
		return fmt.Errorf("open raw log: %w", err)
	}
	defer f.Close()

	frames, parseErr := ParseFrames(f)
	if parseErr != nil {
		r.logger.Warn("raw log ends mid-frame, replaying what parsed",
			"file", r.cfg.File, "frames", len(frames), "error", parseErr)
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frames found in %s", r.cfg.File)
	}

	sessionID := r.sessionID()
	r.logger.Info("replay starting",
		"file", r.cfg.File, "frames", len(frames), "session_id", sessionID)

	r.pipeline.OnSessionStart(ctx, sessionID)

	var stored, duplicates, failures int
	for _, frame := range frames {
		select {
		case <-ctx.Done():
			r.logger.Info("replay interrupted", "replayed", stored+duplicates+failures)
			r.pipeline.OnSessionEnd(ctx, sessionID)
			return ctx.Err()
		default:
		}

		outcome, ok := r.pipeline.OnExchange(ctx, sessionID, frame.Endpoint, frame.Payload)
		if !ok {
			continue
		}
		switch outcome {
		case store.Stored:
			stored++
		case store.Duplicate:
			duplicates++
		case store.Unavailable:
			failures++
		}
	}

	r.pipeline.OnSessionEnd(ctx, sessionID)

	r.logger.Info("replay complete",
		"file", r.cfg.File,
		"frames", len(frames),
		"stored", stored,
		"duplicates", duplicates,
		"failures", failures)

	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("File: %s\n", r.cfg.File)
	fmt.Printf("Session: %s\n", sessionID)
	fmt.Printf("Frames replayed: %d\n", len(frames))
	fmt.Printf("Stored: %d\n", stored)
	fmt.Printf("Duplicates skipped: %d\n", duplicates)
	if failures > 0 {
		fmt.Printf("Store failures: %d\n", failures)
	}

	return nil
}

// sessionID picks the replay target: the explicit override, the session
// encoded in a raw_<id>.bin file name, or a fresh id.
func (r *Runner) sessionID() string {
	if r.cfg.SessionID != "" {
		return r.cfg.SessionID
	}
	base := filepath.Base(r.cfg.File)
	if id, ok := strings.CutPrefix(base, "raw_"); ok {
		if id, ok := strings.CutSuffix(id, ".bin"); ok && id != "" {
			return id
		}
	}
	return "replay-" + uuid.NewString()
}
