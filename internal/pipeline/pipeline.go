package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/fingerprint"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/session"
	"github.com/MikeSquared-Agency/scribe/internal/sink"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// Publisher is the slice of the bus client the pipeline needs for summaries.
type Publisher interface {
	Publish(subject string, data any) error
}

// Pipeline wires one exchange through extract, fingerprint, store-if-new and
// the session counters. It holds no per-session state of its own; the
// tracker and the store own all of it.
type Pipeline struct {
	gateway   store.Gateway
	extractor *extractor.Extractor
	tracker   *session.Tracker
	sinks     *sink.Set
	bus       Publisher
	logger    *slog.Logger
}

func New(gw store.Gateway, ext *extractor.Extractor, tr *session.Tracker, sinks *sink.Set, bus Publisher, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		gateway:   gw,
		extractor: ext,
		tracker:   tr,
		sinks:     sinks,
		bus:       bus,
		logger:    logger,
	}
}

// OnSessionStart activates the session and writes its start marker. A store
// fault here degrades to a warning; the session still tracks and sinks.
func (p *Pipeline) OnSessionStart(ctx context.Context, sessionID string) {
	p.tracker.Start(sessionID)

	if err := p.sinks.OpenSession(sessionID); err != nil {
		p.logger.Warn("failed to open session sinks", "session_id", sessionID, "error", err)
	}
	if err := p.gateway.LogSessionStart(ctx, sessionID); err != nil {
		p.logger.Warn("failed to log session start", "session_id", sessionID, "error", err)
	}

	p.logger.Info("session started", "session_id", sessionID)
}

// OnExchange runs one intercepted buffer through the pipeline and returns
// the store outcome. The second result is false when the exchange was
// dropped because its session already ended. Artifacts reach the enabled
// sinks regardless of the store outcome, so an outage never loses data.
func (p *Pipeline) OnExchange(ctx context.Context, sessionID, endpoint string, buf []byte) (store.Outcome, bool) {
	seq, ok := p.tracker.Begin(sessionID)
	if !ok {
		p.logger.Warn("exchange for ended session dropped", "session_id", sessionID)
		return 0, false
	}

	if err := p.sinks.WriteRaw(sessionID, seq, endpoint, buf); err != nil {
		p.logger.Warn("raw sink write failed", "session_id", sessionID, "seq", seq, "error", err)
	}

	res := p.extractor.Extract(buf)

	if err := p.sinks.WriteText(sessionID, seq, res.Texts); err != nil {
		p.logger.Warn("text sink write failed", "session_id", sessionID, "seq", seq, "error", err)
	}
	if err := p.sinks.WriteJSON(sessionID, seq, res.Objects); err != nil {
		p.logger.Warn("json sink write failed", "session_id", sessionID, "seq", seq, "error", err)
	}

	fp := fingerprint.New(res.Texts, res.Objects)
	rec := &store.CaptureRecord{
		SessionID: sessionID,
		Sequence:  seq,
		Endpoint:  endpoint,
		Texts:     res.Texts,
		Objects:   res.Objects,
		TextHash:  fp.TextHash,
		JSONHash:  fp.JSONHash,
		RawSize:   len(buf),
		Format:    extractor.FormatHint(buf),
	}

	outcome, err := p.gateway.StoreIfNew(ctx, rec)
	if err != nil {
		p.logger.Warn("capture write failed",
			"session_id", sessionID, "seq", seq, "error", err)
	}
	p.tracker.RecordOutcome(sessionID, outcome)

	switch outcome {
	case store.Stored:
		p.logger.Info("capture stored",
			"session_id", sessionID, "seq", seq,
			"endpoint", endpoint, "size", len(buf),
			"texts", len(res.Texts), "objects", len(res.Objects))
	case store.Duplicate:
		p.logger.Info("duplicate skipped", "session_id", sessionID, "seq", seq)
	}

	return outcome, true
}

// OnSessionEnd closes the session exactly once: terminal counters out of the
// tracker, end marker into the store, summary onto the bus, sinks closed.
func (p *Pipeline) OnSessionEnd(ctx context.Context, sessionID string) {
	summary, ok := p.tracker.End(sessionID)
	if !ok {
		p.logger.Debug("end for unknown or already ended session", "session_id", sessionID)
		return
	}
	p.finishSession(ctx, summary)
}

// Shutdown ends every active session so counters and markers survive a
// restart. In-flight exchanges are not waited for; their late outcomes drop.
func (p *Pipeline) Shutdown(ctx context.Context) {
	for _, summary := range p.tracker.EndAll() {
		p.finishSession(ctx, summary)
	}
	p.sinks.Close()
}

func (p *Pipeline) finishSession(ctx context.Context, summary session.Summary) {
	if err := p.gateway.LogSessionEnd(ctx, summary.SessionID, summary.TotalSeen); err != nil {
		p.logger.Warn("failed to log session end",
			"session_id", summary.SessionID, "error", err)
	}

	if p.bus != nil {
		if err := p.bus.Publish(hermes.SubjectSessionSummary, summary); err != nil {
			p.logger.Warn("failed to publish session summary",
				"session_id", summary.SessionID, "error", err)
		}
	}

	p.sinks.CloseSession(summary.SessionID)

	p.logger.Info("session ended",
		"session_id", summary.SessionID,
		"total_seen", summary.TotalSeen,
		"unique_stored", summary.UniqueStored,
		"duplicates_skipped", summary.DuplicatesSkipped)
}

// HandleSessionStarted is the NATS handler for swarm.intercept.session.started.
func (p *Pipeline) HandleSessionStarted(subject string, data []byte) {
	var evt hermes.SessionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse session event", "subject", subject, "error", err)
		return
	}
	if evt.SessionID == "" {
		p.logger.Error("session event without session_id", "subject", subject)
		return
	}
	p.OnSessionStart(context.Background(), evt.SessionID)
}

// HandleExchange is the NATS handler for swarm.intercept.exchange.
func (p *Pipeline) HandleExchange(subject string, data []byte) {
	var evt hermes.ExchangeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse exchange event", "subject", subject, "error", err)
		return
	}
	if evt.SessionID == "" {
		p.logger.Error("exchange event without session_id", "subject", subject)
		return
	}
	p.OnExchange(context.Background(), evt.SessionID, evt.Endpoint, evt.Buffer)
}

// HandleSessionEnded is the NATS handler for swarm.intercept.session.ended.
func (p *Pipeline) HandleSessionEnded(subject string, data []byte) {
	var evt hermes.SessionEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse session event", "subject", subject, "error", err)
		return
	}
	if evt.SessionID == "" {
		p.logger.Error("session event without session_id", "subject", subject)
		return
	}
	p.OnSessionEnd(context.Background(), evt.SessionID)
}
