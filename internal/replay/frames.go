package replay

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/sink"
)

// Frame is one entry sliced back out of a raw artifact log.
type Frame struct {
	Sequence   int
	CapturedAt time.Time
	Endpoint   string
	Payload    []byte
}

// ParseFrames reads every framed entry out of a raw artifact log. The Size
// header bounds each payload read, so payload bytes that look like framing
// cannot confuse the scan. A log truncated mid-frame returns the frames
// parsed before the cut together with the error.
func ParseFrames(r io.Reader) ([]Frame, error) {
	br := bufio.NewReader(r)
	var frames []Frame
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("read raw log: %w", err)
		}
		if !isSeparator(line) {
			continue
		}
		frame, ok, err := readFrame(br)
		if err != nil {
			return frames, err
		}
		if ok {
			frames = append(frames, frame)
		}
	}
}

// readFrame parses one entry after its opening separator. Lines that do not
// form a header mean the separator belonged to other framing; the entry is
// skipped without error.
func readFrame(br *bufio.Reader) (Frame, bool, error) {
	var f Frame

	line, err := br.ReadString('\n')
	if err != nil {
		return Frame{}, false, nil
	}
	seqStr, ok := strings.CutPrefix(strings.TrimSuffix(line, "\n"), "REQUEST #")
	if !ok {
		return Frame{}, false, nil
	}
	f.Sequence, err = strconv.Atoi(seqStr)
	if err != nil {
		return Frame{}, false, nil
	}

	line, err = br.ReadString('\n')
	if err != nil {
		return Frame{}, false, nil
	}
	if ts, ok := strings.CutPrefix(strings.TrimSuffix(line, "\n"), "Timestamp: "); ok {
		// Unparseable timestamps stay zero; the payload is still worth replaying.
		f.CapturedAt, _ = time.Parse(time.RFC3339Nano, ts)
	} else {
		return Frame{}, false, nil
	}

	line, err = br.ReadString('\n')
	if err != nil {
		return Frame{}, false, nil
	}
	endpoint, ok := strings.CutPrefix(strings.TrimSuffix(line, "\n"), "Endpoint: ")
	if !ok {
		return Frame{}, false, nil
	}
	f.Endpoint = endpoint

	line, err = br.ReadString('\n')
	if err != nil {
		return Frame{}, false, nil
	}
	sizeStr, ok := strings.CutPrefix(strings.TrimSuffix(line, "\n"), "Size: ")
	if !ok {
		return Frame{}, false, nil
	}
	sizeStr, ok = strings.CutSuffix(sizeStr, " bytes")
	if !ok {
		return Frame{}, false, nil
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size < 0 {
		return Frame{}, false, nil
	}

	line, err = br.ReadString('\n')
	if err != nil || !isSeparator(line) {
		return Frame{}, false, nil
	}

	f.Payload = make([]byte, size)
	if _, err := io.ReadFull(br, f.Payload); err != nil {
		return Frame{}, false, fmt.Errorf("truncated payload in frame %d: %w", f.Sequence, err)
	}

	return f, true, nil
}

func isSeparator(line string) bool {
	return strings.TrimSuffix(line, "\n") == sink.FrameSeparator
}
