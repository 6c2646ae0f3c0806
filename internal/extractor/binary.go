package extractor

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// FormatHint guesses the serialization format of an intercepted payload:
// "json", "text", "protobuf", "binary", or "empty". The hint is heuristic —
// it annotates capture records and raw sink headers, nothing depends on it
// being right.
func FormatHint(buf []byte) string {
	if len(buf) == 0 {
		return "empty"
	}

	trimmed := bytes.TrimLeft(buf, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && gjson.ValidBytes(trimmed) {
		return "json"
	}

	if likelyText(buf) {
		return "text"
	}

	if looksLikeProtobuf(buf) {
		return "protobuf"
	}

	return "binary"
}

// likelyText reports whether >90% of the bytes are printable.
func likelyText(buf []byte) bool {
	printable := 0
	for _, c := range buf {
		if isPrintable(c) {
			printable++
		}
	}
	return float64(printable)/float64(len(buf)) > 0.9
}

// looksLikeProtobuf probes the first byte as a protobuf field tag: a valid
// wire type (varint, fixed64, length-delimited, fixed32) with a plausible
// field number, followed by a plausible varint when the wire type demands
// one.
func looksLikeProtobuf(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}

	wireType := buf[0] & 0x07
	fieldNumber := buf[0] >> 3
	if fieldNumber == 0 || fieldNumber > 15 {
		return false
	}

	switch wireType {
	case 0: // varint
		for i := 1; i < len(buf) && i < 10; i++ {
			if buf[i]&0x80 == 0 {
				return true
			}
		}
		return len(buf) < 10
	case 1: // fixed64
		return len(buf) >= 9
	case 2: // length-delimited
		if buf[1]&0x80 != 0 {
			return true
		}
		length := int(buf[1])
		return length > 0 && len(buf) >= 2+length
	case 5: // fixed32
		return len(buf) >= 5
	}

	return false
}
