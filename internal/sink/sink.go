package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

// FrameSeparator brackets every entry in every sink file.
const FrameSeparator = "================================================================================"

// Set owns the per-session artifact files: raw intercepted bytes, extracted
// text fragments, and extracted JSON documents, each independently enabled.
// Raw entries carry an exact Size header so they can be parsed back out and
// replayed through the pipeline.
type Set struct {
	dir    string
	raw    bool
	text   bool
	json   bool
	logger *slog.Logger
	mu     sync.Mutex
	open   map[string]*sessionFiles
}

type sessionFiles struct {
	mu   sync.Mutex
	raw  *os.File
	text *os.File
	json *os.File
}

// NewSet prepares the artifact directory. Disabled sinks cost nothing; with
// all three disabled no directory is created and every write is a no-op.
func NewSet(dir string, raw, text, json bool, logger *slog.Logger) (*Set, error) {
	s := &Set{
		dir:    dir,
		raw:    raw,
		text:   text,
		json:   json,
		logger: logger,
		open:   make(map[string]*sessionFiles),
	}
	if s.Enabled() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		logger.Info("artifact sinks enabled",
			"dir", dir, "raw", raw, "text", text, "json", json)
	}
	return s, nil
}

func (s *Set) Enabled() bool {
	return s.raw || s.text || s.json
}

// session returns the open files for a session id, creating them on first
// use so sessions that were never explicitly started still get artifacts.
func (s *Set) session(sessionID string) (*sessionFiles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sf, ok := s.open[sessionID]; ok {
		return sf, nil
	}

	id := sanitizeID(sessionID)
	sf := &sessionFiles{}
	var err error
	if s.raw {
		sf.raw, err = openAppend(filepath.Join(s.dir, "raw_"+id+".bin"))
		if err != nil {
			return nil, err
		}
	}
	if s.text {
		sf.text, err = openAppend(filepath.Join(s.dir, "text_"+id+".log"))
		if err != nil {
			sf.close()
			return nil, err
		}
	}
	if s.json {
		sf.json, err = openAppend(filepath.Join(s.dir, "json_"+id+".log"))
		if err != nil {
			sf.close()
			return nil, err
		}
	}
	s.open[sessionID] = sf
	return sf, nil
}

// OpenSession creates the session's artifact files eagerly.
func (s *Set) OpenSession(sessionID string) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.session(sessionID)
	return err
}

// WriteRaw appends one framed entry with the untouched intercepted bytes.
// The Size header is exact so the entry can be sliced back out by the replay
// parser no matter what the payload contains.
func (s *Set) WriteRaw(sessionID string, seq int, endpoint string, buf []byte) error {
	if !s.raw {
		return nil
	}
	sf, err := s.session(sessionID)
	if err != nil {
		return err
	}

	var frame bytes.Buffer
	frame.WriteString("\n" + FrameSeparator + "\n")
	fmt.Fprintf(&frame, "REQUEST #%d\n", seq)
	fmt.Fprintf(&frame, "Timestamp: %s\n", time.Now().UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&frame, "Endpoint: %s\n", endpoint)
	fmt.Fprintf(&frame, "Size: %d bytes\n", len(buf))
	frame.WriteString(FrameSeparator + "\n")
	frame.Write(buf)
	frame.WriteString("\n" + FrameSeparator + "\n\n")

	sf.mu.Lock()
	defer sf.mu.Unlock()
	_, err = sf.raw.Write(frame.Bytes())
	if err != nil {
		return fmt.Errorf("write raw entry: %w", err)
	}
	return nil
}

// WriteText appends the extracted fragments of one exchange.
func (s *Set) WriteText(sessionID string, seq int, texts []string) error {
	if !s.text {
		return nil
	}
	sf, err := s.session(sessionID)
	if err != nil {
		return err
	}

	var frame bytes.Buffer
	frame.WriteString("\n" + FrameSeparator + "\n")
	fmt.Fprintf(&frame, "REQUEST #%d\n", seq)
	fmt.Fprintf(&frame, "Timestamp: %s\n", time.Now().UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&frame, "\nEXTRACTED TEXT (%d fragments):\n", len(texts))
	for _, t := range texts {
		frame.WriteString(t)
		frame.WriteByte('\n')
	}
	frame.WriteString(FrameSeparator + "\n\n")

	sf.mu.Lock()
	defer sf.mu.Unlock()
	_, err = sf.text.Write(frame.Bytes())
	if err != nil {
		return fmt.Errorf("write text entry: %w", err)
	}
	return nil
}

// WriteJSON appends the extracted documents of one exchange, pretty printed
// with member order preserved.
func (s *Set) WriteJSON(sessionID string, seq int, objects []extractor.Value) error {
	if !s.json {
		return nil
	}
	sf, err := s.session(sessionID)
	if err != nil {
		return err
	}

	var frame bytes.Buffer
	frame.WriteString("\n" + FrameSeparator + "\n")
	fmt.Fprintf(&frame, "REQUEST #%d\n", seq)
	fmt.Fprintf(&frame, "Timestamp: %s\n", time.Now().UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&frame, "Valid JSON objects: %d\n\n", len(objects))
	for i, obj := range objects {
		fmt.Fprintf(&frame, "-- Object #%d --\n", i+1)
		pretty, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal object %d: %w", i+1, err)
		}
		frame.Write(pretty)
		frame.WriteString("\n\n")
	}
	frame.WriteString(FrameSeparator + "\n\n")

	sf.mu.Lock()
	defer sf.mu.Unlock()
	_, err = sf.json.Write(frame.Bytes())
	if err != nil {
		return fmt.Errorf("write json entry: %w", err)
	}
	return nil
}

// CloseSession closes the session's artifact files. Writes for the same id
// afterwards would reopen them, so call it only after the session ended.
func (s *Set) CloseSession(sessionID string) {
	s.mu.Lock()
	sf, ok := s.open[sessionID]
	if ok {
		delete(s.open, sessionID)
	}
	s.mu.Unlock()

	if ok {
		sf.close()
	}
}

// Close closes every open artifact file.
func (s *Set) Close() {
	s.mu.Lock()
	files := make([]*sessionFiles, 0, len(s.open))
	for id, sf := range s.open {
		files = append(files, sf)
		delete(s.open, id)
	}
	s.mu.Unlock()

	for _, sf := range files {
		sf.close()
	}
}

func (sf *sessionFiles) close() {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	for _, f := range []*os.File{sf.raw, sf.text, sf.json} {
		if f != nil {
			f.Close()
		}
	}
	sf.raw, sf.text, sf.json = nil, nil, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}
	return f, nil
}

// sanitizeID keeps session ids filesystem-safe. Ids come off the wire, so
// anything outside a conservative set becomes an underscore.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.' || r == '_':
			return r
		}
		return '_'
	}, id)
}
