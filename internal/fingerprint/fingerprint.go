package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

// separator joins canonical fragments before hashing. The unit separator is
// not a printable byte, so it can never appear inside an extracted fragment
// and joined inputs cannot collide with a fragment that contains it.
const separator = "\x1f"

// Fingerprint identifies a capture's content for deduplication. Two captures
// with the same fingerprint carry the same fragments and the same JSON
// documents, regardless of encounter order, member order, or number spelling.
type Fingerprint struct {
	TextHash string
	JSONHash string
}

// New computes the fingerprint of one extraction result.
func New(texts []string, objects []extractor.Value) Fingerprint {
	return Fingerprint{
		TextHash: TextHash(texts),
		JSONHash: JSONHash(objects),
	}
}

// TextHash hashes the fragments sorted lexicographically and joined with the
// unit separator. No fragments hashes the empty string.
func TextHash(texts []string) string {
	sorted := make([]string, len(texts))
	copy(sorted, texts)
	sort.Strings(sorted)
	return digest(strings.Join(sorted, separator))
}

// JSONHash hashes the canonical serializations of the objects, sorted and
// joined with the unit separator. No objects hashes the empty string.
func JSONHash(objects []extractor.Value) string {
	forms := make([]string, len(objects))
	for i, obj := range objects {
		forms[i] = Canonical(obj)
	}
	sort.Strings(forms)
	return digest(strings.Join(forms, separator))
}

// Canonical renders a value with object keys sorted at every depth, no
// whitespace, and numbers reduced to a single spelling. Semantically equal
// documents serialize to the same string. Array element order is meaning,
// not formatting, and is preserved.
func Canonical(v extractor.Value) string {
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	return buf.String()
}

func writeCanonical(buf *bytes.Buffer, v extractor.Value) {
	switch v.Kind {
	case extractor.KindBool:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case extractor.KindNumber:
		buf.WriteString(canonicalNumber(v.Num))
	case extractor.KindString:
		b, _ := json.Marshal(v.Str)
		buf.Write(b)
	case extractor.KindArray:
		buf.WriteByte('[')
		for i, el := range v.Arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, el)
		}
		buf.WriteByte(']')
	case extractor.KindObject:
		members := make([]extractor.Member, len(v.Obj))
		copy(members, v.Obj)
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Key < members[j].Key
		})
		buf.WriteByte('{')
		for i, m := range members {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(m.Key)
			buf.Write(k)
			buf.WriteByte(':')
			writeCanonical(buf, m.Value)
		}
		buf.WriteByte('}')
	default:
		buf.WriteString("null")
	}
}

// canonicalNumber reduces a JSON number literal to one spelling. Integer
// literals within int64 range keep full precision; everything else rounds
// through float64, so 1, 1.0, and 1e0 all canonicalize to "1".
func canonicalNumber(lit string) string {
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return lit
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
