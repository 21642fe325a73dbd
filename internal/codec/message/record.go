package message

import (
	"fmt"
	"strings"

	"github.com/danmuck/codecctl/internal/codec/frame"
	"github.com/tidwall/gjson"
)

// Record types carried in the "type" field of a keyed record.
const (
	TypeCommand       = "zCommand"
	TypeConfiguration = "zConfiguration"
	TypeStatus        = "zStatus"
	TypeEvent         = "zEvent"
	TypeError         = "zError"
)

// Record is a keyed message: a JSON object naming its response key in
// "topKey", its command type in "type" and whether it answers a request
// in "Sync". The payload lives under the response key.
type Record struct {
	Type    string
	TopKey  string
	Sync    bool
	Status  string
	Message string
	Raw     string

	doc gjson.Result
}

// KeyFor builds the routing key of a (type, response key) pair.
func KeyFor(typ, topKey string) string {
	return typ + "/" + topKey
}

// ParseRecord parses one complete JSON record frame.
func ParseRecord(f frame.Frame) (*Record, error) {
	raw := strings.TrimSpace(string(f))
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid json record", ErrMalformedFrame)
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: record is not an object", ErrMalformedFrame)
	}
	rec := &Record{
		Type:    doc.Get("type").String(),
		TopKey:  doc.Get("topKey").String(),
		Sync:    doc.Get("Sync").Bool(),
		Status:  doc.Get("Status.state").String(),
		Message: doc.Get("Status.message").String(),
		Raw:     raw,
		doc:     doc,
	}
	if rec.Type == "" || rec.TopKey == "" {
		return nil, fmt.Errorf("%w: record missing type or topKey", ErrMalformedFrame)
	}
	return rec, nil
}

// Key returns the record's routing key.
func (r *Record) Key() string {
	return KeyFor(r.Type, r.TopKey)
}

// Body returns the payload stored under the response key.
func (r *Record) Body() gjson.Result {
	return r.doc.Get(r.TopKey)
}

// Get reads a dotted path below the payload, e.g. "Layout.Style".
func (r *Record) Get(path string) gjson.Result {
	return r.Body().Get(path)
}

// String returns the string at path when present.
func (r *Record) String(path string) (string, bool) {
	v := r.Get(path)
	if !v.Exists() {
		return "", false
	}
	return v.String(), true
}

// Bool returns the boolean at path, accepting wire spellings such as "on".
func (r *Record) Bool(path string) (bool, bool) {
	v := r.Get(path)
	switch v.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.String:
		return ParseBool(v.Str)
	default:
		return false, false
	}
}

// Int returns the integer at path when it holds a number or numeric string.
func (r *Record) Int(path string) (int, bool) {
	v := r.Get(path)
	switch v.Type {
	case gjson.Number:
		return int(v.Int()), true
	case gjson.String:
		return ParseInt(v.Str)
	default:
		return 0, false
	}
}

// Fields returns the payload as generic values, unknown keys included.
func (r *Record) Fields() map[string]any {
	out := map[string]any{}
	r.Body().ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.Value()
		return true
	})
	return out
}
