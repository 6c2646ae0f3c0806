package extractor

import (
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultMinFragment is the shortest printable run kept as a text fragment,
// after trimming surrounding whitespace. Shorter runs are protocol noise.
const DefaultMinFragment = 4

// Result holds everything extracted from one intercepted buffer. Both
// sequences preserve encounter order and either may be empty.
type Result struct {
	Texts   []string
	Objects []Value
}

type Extractor struct {
	minFragment int
}

func New(minFragment int) *Extractor {
	if minFragment <= 0 {
		minFragment = DefaultMinFragment
	}
	return &Extractor{minFragment: minFragment}
}

// Extract scans an intercepted payload for embedded JSON objects and
// human-readable text. Balanced `{...}` regions that parse as JSON are
// consumed as objects; every byte outside those regions feeds the printable
// run scan. Pure function of its input — unparseable regions are expected
// noise, never an error.
func (e *Extractor) Extract(buf []byte) Result {
	spans, objects := scanJSON(buf)
	return Result{
		Texts:   e.scanTexts(buf, spans),
		Objects: objects,
	}
}

// span marks a half-open byte range [start, end) consumed as parsed JSON.
type span struct {
	start, end int
}

// scanJSON locates balanced top-level brace regions with quote- and
// escape-aware depth counting, then parses each candidate. Candidates that
// fail to parse are discarded and their bytes remain visible to the text
// scan. An unterminated string or brace leaves the candidate open, which
// drops it at end of input.
func scanJSON(buf []byte) ([]span, []Value) {
	var spans []span
	var objects []Value

	depth := 0
	start := -1
	inStr := false
	escaped := false

	for i := 0; i < len(buf); i++ {
		c := buf[i]

		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inStr = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue // stray close, not ours
			}
			depth--
			if depth == 0 && start >= 0 {
				if v, ok := parseObject(buf[start : i+1]); ok {
					spans = append(spans, span{start, i + 1})
					objects = append(objects, v)
				}
				start = -1
			}
		}
	}

	return spans, objects
}

func parseObject(raw []byte) (Value, bool) {
	if !gjson.ValidBytes(raw) {
		return Value{}, false
	}
	res := gjson.ParseBytes(raw)
	if !res.IsObject() {
		return Value{}, false
	}
	return fromGJSON(res), true
}

// scanTexts emits maximal printable runs from the byte ranges between (and
// around) the consumed JSON spans, in encounter order.
func (e *Extractor) scanTexts(buf []byte, consumed []span) []string {
	var texts []string

	emit := func(seg []byte) {
		runStart := -1
		for i := 0; i <= len(seg); i++ {
			printable := i < len(seg) && isPrintable(seg[i])
			if printable {
				if runStart < 0 {
					runStart = i
				}
				continue
			}
			if runStart >= 0 {
				run := string(seg[runStart:i])
				if len(strings.TrimSpace(run)) >= e.minFragment {
					texts = append(texts, run)
				}
				runStart = -1
			}
		}
	}

	prev := 0
	for _, sp := range consumed {
		emit(buf[prev:sp.start])
		prev = sp.end
	}
	emit(buf[prev:])

	return texts
}

// isPrintable reports whether c belongs to the printable set: ASCII
// 0x20–0x7E plus tab, newline, carriage return, vertical tab and form feed.
func isPrintable(c byte) bool {
	if c >= 0x20 && c <= 0x7e {
		return true
	}
	switch c {
	case '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
