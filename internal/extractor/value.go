package extractor

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind enumerates the JSON value variants.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a parsed JSON value. Object member order and the original number
// literal are preserved so stored captures round-trip exactly as intercepted;
// canonical ordering is applied only at hashing time.
type Value struct {
	Kind Kind
	Bool bool
	Num  string // original literal, e.g. "1.25e3"
	Str  string
	Arr  []Value
	Obj  []Member
}

// Member is one key/value pair of a JSON object, in encounter order.
type Member struct {
	Key   string
	Value Value
}

func fromGJSON(res gjson.Result) Value {
	switch {
	case res.Type == gjson.Null:
		return Value{Kind: KindNull}
	case res.Type == gjson.False:
		return Value{Kind: KindBool, Bool: false}
	case res.Type == gjson.True:
		return Value{Kind: KindBool, Bool: true}
	case res.Type == gjson.Number:
		return Value{Kind: KindNumber, Num: strings.TrimSpace(res.Raw)}
	case res.Type == gjson.String:
		return Value{Kind: KindString, Str: res.String()}
	case res.IsArray():
		elems := res.Array()
		arr := make([]Value, 0, len(elems))
		for _, el := range elems {
			arr = append(arr, fromGJSON(el))
		}
		return Value{Kind: KindArray, Arr: arr}
	case res.IsObject():
		var members []Member
		res.ForEach(func(k, v gjson.Result) bool {
			members = append(members, Member{Key: k.String(), Value: fromGJSON(v)})
			return true
		})
		return Value{Kind: KindObject, Obj: members}
	}
	return Value{Kind: KindNull}
}

// MarshalJSON serializes the value with members in their original order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	v.writeJSON(&buf)
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(v.Num)
	case KindString:
		b, _ := json.Marshal(v.Str)
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, el := range v.Arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			el.writeJSON(buf)
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, m := range v.Obj {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(m.Key)
			buf.Write(k)
			buf.WriteByte(':')
			m.Value.writeJSON(buf)
		}
		buf.WriteByte('}')
	default:
		buf.WriteString("null")
	}
}
