package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// State of one session id as seen by the tracker.
type State int

const (
	NotStarted State = iota
	Active
	Ended
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Ended:
		return "ended"
	}
	return "not_started"
}

// Summary is the immutable counter set emitted exactly once when a session
// ends. TotalSeen counts every exchange that arrived; UniqueStored and
// DuplicatesSkipped count resolved writes, so exchanges that failed at the
// store or were still in flight at teardown appear only in TotalSeen.
type Summary struct {
	SessionID         string    `json:"session_id"`
	TotalSeen         int       `json:"total_seen"`
	UniqueStored      int       `json:"unique_stored"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
}

// Stats is a live snapshot of an active session.
type Stats struct {
	SessionID         string    `json:"session_id"`
	State             string    `json:"state"`
	TotalSeen         int       `json:"total_seen"`
	UniqueStored      int       `json:"unique_stored"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	StoreFailures     int       `json:"store_failures"`
	StartedAt         time.Time `json:"started_at"`
}

type counters struct {
	startedAt         time.Time
	totalSeen         int
	uniqueStored      int
	duplicatesSkipped int
	storeFailures     int
}

// Tracker owns per-session counters. Every mutation happens under one mutex,
// and a session that has ended stays ended: late exchanges and late outcomes
// are dropped rather than resurrecting the session.
type Tracker struct {
	mu     sync.Mutex
	active map[string]*counters
	ended  map[string]struct{}
	logger *slog.Logger
}

func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		active: make(map[string]*counters),
		ended:  make(map[string]struct{}),
		logger: logger,
	}
}

// Start activates a session with zeroed counters. Starting an already active
// session is a no-op; starting an ended one is dropped.
func (t *Tracker) Start(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activate(sessionID)
}

// activate is called with the mutex held. Returns nil for ended sessions.
func (t *Tracker) activate(sessionID string) *counters {
	if _, isEnded := t.ended[sessionID]; isEnded {
		return nil
	}
	c, ok := t.active[sessionID]
	if !ok {
		c = &counters{startedAt: time.Now().UTC()}
		t.active[sessionID] = c
	}
	return c
}

// Begin counts one arriving exchange and returns its sequence number within
// the session. A session activates implicitly on its first exchange, so a
// missed start event never loses traffic. Returns false once the session has
// ended.
func (t *Tracker) Begin(sessionID string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.activate(sessionID)
	if c == nil {
		t.logger.Debug("exchange after session end dropped", "session_id", sessionID)
		return 0, false
	}
	c.totalSeen++
	return c.totalSeen, true
}

// RecordOutcome folds one store outcome into the session counters. Outcomes
// arriving after the session ended are dropped; teardown does not wait for
// in-flight exchanges.
func (t *Tracker) RecordOutcome(sessionID string, outcome store.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.active[sessionID]
	if !ok {
		t.logger.Debug("outcome after session end dropped",
			"session_id", sessionID, "outcome", outcome.String())
		return
	}

	switch outcome {
	case store.Stored:
		c.uniqueStored++
	case store.Duplicate:
		c.duplicatesSkipped++
	case store.Unavailable:
		c.storeFailures++
	}
}

// End moves the session to its terminal state and returns the summary. Only
// the first call succeeds; repeats return false.
func (t *Tracker) End(sessionID string) (Summary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.end(sessionID)
}

// end is called with the mutex held.
func (t *Tracker) end(sessionID string) (Summary, bool) {
	c, ok := t.active[sessionID]
	if !ok {
		return Summary{}, false
	}
	delete(t.active, sessionID)
	t.ended[sessionID] = struct{}{}

	return Summary{
		SessionID:         sessionID,
		TotalSeen:         c.totalSeen,
		UniqueStored:      c.uniqueStored,
		DuplicatesSkipped: c.duplicatesSkipped,
		StartedAt:         c.startedAt,
		EndedAt:           time.Now().UTC(),
	}, true
}

// EndAll ends every active session and returns their summaries, ordered by
// session id. Used at shutdown.
func (t *Tracker) EndAll() []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		if s, ok := t.end(id); ok {
			summaries = append(summaries, s)
		}
	}
	return summaries
}

// State reports where a session id is in its lifecycle.
func (t *Tracker) State(sessionID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[sessionID]; ok {
		return Active
	}
	if _, ok := t.ended[sessionID]; ok {
		return Ended
	}
	return NotStarted
}

// Snapshot returns the live counters of an active session.
func (t *Tracker) Snapshot(sessionID string) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.active[sessionID]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		SessionID:         sessionID,
		State:             Active.String(),
		TotalSeen:         c.totalSeen,
		UniqueStored:      c.uniqueStored,
		DuplicatesSkipped: c.duplicatesSkipped,
		StoreFailures:     c.storeFailures,
		StartedAt:         c.startedAt,
	}, true
}

// ActiveSessions lists the ids of all currently active sessions, sorted.
func (t *Tracker) ActiveSessions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
