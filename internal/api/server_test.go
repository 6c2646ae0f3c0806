package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MikeSquared-Agency/scribe/internal/session"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

type stubGateway struct {
	stats map[string]store.SessionStats
	err   error
}

func (g *stubGateway) StoreIfNew(ctx context.Context, rec *store.CaptureRecord) (store.Outcome, error) {
	return store.Stored, nil
}

func (g *stubGateway) LogSessionStart(ctx context.Context, sessionID string) error { return nil }

func (g *stubGateway) LogSessionEnd(ctx context.Context, sessionID string, totalRequests int) error {
	return nil
}

func (g *stubGateway) SessionStats(ctx context.Context, sessionID string) (store.SessionStats, error) {
	if g.err != nil {
		return store.SessionStats{}, g.err
	}
	return g.stats[sessionID], nil
}

func (g *stubGateway) Close(ctx context.Context) error { return nil }

func newTestServer(gw store.Gateway) (*Server, *session.Tracker) {
	tracker := session.NewTracker(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewServer(8760, tracker, gw), tracker
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(&stubGateway{})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, tracker := newTestServer(&stubGateway{})
	tracker.Start("sess-b")
	tracker.Start("sess-a")

	req := httptest.NewRequest("GET", "/api/v1/scribe/status", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body struct {
		Agent          string   `json:"agent"`
		Status         string   `json:"status"`
		ActiveSessions []string `json:"active_sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Agent != "scribe" {
		t.Errorf("expected agent scribe, got %q", body.Agent)
	}
	if body.Status != "capturing" {
		t.Errorf("expected status capturing, got %q", body.Status)
	}
	if len(body.ActiveSessions) != 2 || body.ActiveSessions[0] != "sess-a" {
		t.Errorf("expected sorted active sessions, got %v", body.ActiveSessions)
	}
}

func TestSessionStatsLive(t *testing.T) {
	srv, tracker := newTestServer(&stubGateway{})
	tracker.Start("sess-live")
	for i := 0; i < 3; i++ {
		tracker.Begin("sess-live")
	}
	tracker.RecordOutcome("sess-live", store.Stored)
	tracker.RecordOutcome("sess-live", store.Stored)
	tracker.RecordOutcome("sess-live", store.Duplicate)

	req := httptest.NewRequest("GET", "/api/v1/scribe/sessions/sess-live/stats", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var stats session.Stats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.State != "active" {
		t.Errorf("expected state active, got %q", stats.State)
	}
	if stats.TotalSeen != 3 || stats.UniqueStored != 2 || stats.DuplicatesSkipped != 1 {
		t.Errorf("counters = %d/%d/%d, want 3/2/1",
			stats.TotalSeen, stats.UniqueStored, stats.DuplicatesSkipped)
	}
}

func TestSessionStatsEnded(t *testing.T) {
	gw := &stubGateway{stats: map[string]store.SessionStats{
		"sess-done": {SessionID: "sess-done", TotalRequests: 5, UniqueRequests: 4, DuplicatesPrevented: 1},
	}}
	srv, _ := newTestServer(gw)

	req := httptest.NewRequest("GET", "/api/v1/scribe/sessions/sess-done/stats", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var stats store.SessionStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.TotalRequests != 5 || stats.UniqueRequests != 4 {
		t.Errorf("stats = %d/%d, want 5/4", stats.TotalRequests, stats.UniqueRequests)
	}
}

func TestSessionStatsUnknown(t *testing.T) {
	srv, _ := newTestServer(&stubGateway{})

	req := httptest.NewRequest("GET", "/api/v1/scribe/sessions/nope/stats", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSessionStatsStoreError(t *testing.T) {
	srv, _ := newTestServer(&stubGateway{err: errors.New("connection refused")})

	req := httptest.NewRequest("GET", "/api/v1/scribe/sessions/any/stats", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv, _ := newTestServer(&stubGateway{})

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
