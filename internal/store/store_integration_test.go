//go:build integration

package store

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/fingerprint"
)

func setupMongoGateway(t *testing.T) *Mongo {
	t.Helper()
	if os.Getenv("MONGO_HOST") == "" {
		t.Skip("MONGO_HOST not set, skipping integration test")
	}

	cfg := config.Load()
	cfg.StoreDriver = "mongo"

	gw, err := New(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		gw.Close(context.Background())
	})
	return gw.(*Mongo)
}

func setupPostgresGateway(t *testing.T) *Postgres {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	cfg := config.Load()
	cfg.StoreDriver = "postgres"

	gw, err := New(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		gw.Close(context.Background())
	})
	return gw.(*Postgres)
}

func testRecord(t *testing.T, sessionID string, seq int, payload string) *CaptureRecord {
	t.Helper()
	res := extractor.New(0).Extract([]byte(payload))
	fp := fingerprint.New(res.Texts, res.Objects)
	return &CaptureRecord{
		SessionID: sessionID,
		Sequence:  seq,
		Endpoint:  "/v1/chat/completions",
		Texts:     res.Texts,
		Objects:   res.Objects,
		TextHash:  fp.TextHash,
		JSONHash:  fp.JSONHash,
		RawSize:   len(payload),
		Format:    extractor.FormatHint([]byte(payload)),
	}
}

func testGatewayDedup(t *testing.T, gw Gateway, cleanup func(sessionID string)) {
	ctx := context.Background()
	sessionID := "integration-test-" + uuid.New().String()[:8]
	t.Cleanup(func() { cleanup(sessionID) })

	rec := testRecord(t, sessionID, 1, `{"model":"gpt-4","temperature":0.7}`+"\x00system prompt text")

	out, err := gw.StoreIfNew(ctx, rec)
	if err != nil {
		t.Fatalf("StoreIfNew failed: %v", err)
	}
	if out != Stored {
		t.Fatalf("expected Stored, got %v", out)
	}

	// Identical content must be rejected by the storage constraint.
	dup := testRecord(t, sessionID, 2, `{"model":"gpt-4","temperature":0.7}`+"\x00system prompt text")
	out, err = gw.StoreIfNew(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate StoreIfNew failed: %v", err)
	}
	if out != Duplicate {
		t.Errorf("expected Duplicate, got %v", out)
	}

	// Different content for the same session stores fine.
	other := testRecord(t, sessionID, 3, `{"model":"gpt-4","temperature":0.9}`)
	out, err = gw.StoreIfNew(ctx, other)
	if err != nil {
		t.Fatalf("third StoreIfNew failed: %v", err)
	}
	if out != Stored {
		t.Errorf("expected Stored for distinct content, got %v", out)
	}

	// The same content under another session is not a duplicate.
	otherSession := "integration-test-" + uuid.New().String()[:8]
	t.Cleanup(func() { cleanup(otherSession) })
	cross := testRecord(t, otherSession, 1, `{"model":"gpt-4","temperature":0.7}`+"\x00system prompt text")
	out, err = gw.StoreIfNew(ctx, cross)
	if err != nil {
		t.Fatalf("cross-session StoreIfNew failed: %v", err)
	}
	if out != Stored {
		t.Errorf("expected Stored across sessions, got %v", out)
	}

	// Markers and stats.
	if err := gw.LogSessionStart(ctx, sessionID); err != nil {
		t.Fatalf("LogSessionStart failed: %v", err)
	}
	if err := gw.LogSessionEnd(ctx, sessionID, 3); err != nil {
		t.Fatalf("LogSessionEnd failed: %v", err)
	}

	stats, err := gw.SessionStats(ctx, sessionID)
	if err != nil {
		t.Fatalf("SessionStats failed: %v", err)
	}
	if stats.TotalRequests != 2 {
		t.Errorf("expected 2 stored captures, got %d", stats.TotalRequests)
	}
	if stats.UniqueRequests != 2 {
		t.Errorf("expected 2 unique captures, got %d", stats.UniqueRequests)
	}
	if stats.DuplicatesPrevented != 0 {
		t.Errorf("expected 0 duplicates in store, got %d", stats.DuplicatesPrevented)
	}
}

func testGatewayConcurrent(t *testing.T, gw Gateway, cleanup func(sessionID string)) {
	ctx := context.Background()
	sessionID := "integration-race-" + uuid.New().String()[:8]
	t.Cleanup(func() { cleanup(sessionID) })

	var stored, duplicate int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			rec := testRecord(t, sessionID, seq, `{"prompt":"identical"}`)
			out, err := gw.StoreIfNew(ctx, rec)
			if err != nil {
				t.Errorf("concurrent StoreIfNew failed: %v", err)
				return
			}
			switch out {
			case Stored:
				atomic.AddInt32(&stored, 1)
			case Duplicate:
				atomic.AddInt32(&duplicate, 1)
			}
		}(i + 1)
	}
	wg.Wait()

	if stored != 1 {
		t.Errorf("expected exactly 1 Stored under contention, got %d", stored)
	}
	if duplicate != 7 {
		t.Errorf("expected 7 Duplicate under contention, got %d", duplicate)
	}
}

func TestIntegration_MongoDedup(t *testing.T) {
	m := setupMongoGateway(t)
	cleanup := func(sessionID string) {
		m.coll.DeleteMany(context.Background(), bson.D{{Key: "session_id", Value: sessionID}})
	}
	testGatewayDedup(t, m, cleanup)
}

func TestIntegration_MongoConcurrent(t *testing.T) {
	m := setupMongoGateway(t)
	cleanup := func(sessionID string) {
		m.coll.DeleteMany(context.Background(), bson.D{{Key: "session_id", Value: sessionID}})
	}
	testGatewayConcurrent(t, m, cleanup)
}

func TestIntegration_PostgresDedup(t *testing.T) {
	p := setupPostgresGateway(t)
	cleanup := func(sessionID string) {
		p.pool.Exec(context.Background(), "DELETE FROM captures WHERE session_id = $1", sessionID)
		p.pool.Exec(context.Background(), "DELETE FROM session_events WHERE session_id = $1", sessionID)
	}
	testGatewayDedup(t, p, cleanup)
}

func TestIntegration_PostgresConcurrent(t *testing.T) {
	p := setupPostgresGateway(t)
	cleanup := func(sessionID string) {
		p.pool.Exec(context.Background(), "DELETE FROM captures WHERE session_id = $1", sessionID)
	}
	testGatewayConcurrent(t, p, cleanup)
}
