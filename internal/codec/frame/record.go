package frame

import (
	"bytes"
	"strings"
)

// RecordBuffer frames newline-terminated records. A line opening a JSON
// object ("{") starts a record that runs until its braces balance, so a
// pretty-printed object spanning many lines is one record. Blank lines
// are discarded. Other lines are records on their own, passed through
// Filter when one is set.
type RecordBuffer struct {
	Filter NoiseFilter

	buf      []byte
	record   []string
	depth    int
	inString bool
	escaped  bool
}

func NewRecordBuffer(filter NoiseFilter) *RecordBuffer {
	return &RecordBuffer{Filter: filter}
}

func (r *RecordBuffer) Feed(chunk []byte) []Frame {
	r.buf = append(r.buf, chunk...)
	var out []Frame
	for {
		nl := bytes.IndexByte(r.buf, '\n')
		if nl < 0 {
			break
		}
		line := strings.TrimRight(string(r.buf[:nl]), "\r")
		r.buf = append(r.buf[:0], r.buf[nl+1:]...)
		if f, ok := r.line(line); ok {
			out = append(out, f)
		}
	}
	return out
}

func (r *RecordBuffer) Pending() int {
	n := len(r.buf)
	for _, l := range r.record {
		n += len(l) + 1
	}
	return n
}

func (r *RecordBuffer) Reset() {
	r.buf = r.buf[:0]
	r.resetRecord()
}

func (r *RecordBuffer) line(line string) (Frame, bool) {
	if len(r.record) > 0 {
		r.record = append(r.record, line)
		r.scanBraces(line)
		if r.depth > 0 {
			return "", false
		}
		return r.flush(), true
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	if strings.HasPrefix(trimmed, "{") {
		r.record = append(r.record, line)
		r.scanBraces(line)
		if r.depth > 0 {
			return "", false
		}
		return r.flush(), true
	}
	if r.Filter != nil {
		clean, ok := r.Filter(line)
		if !ok || strings.TrimSpace(clean) == "" {
			return "", false
		}
		return Frame(clean), true
	}
	return Frame(line), true
}

func (r *RecordBuffer) flush() Frame {
	f := Frame(strings.Join(r.record, "\n"))
	r.resetRecord()
	return f
}

func (r *RecordBuffer) resetRecord() {
	r.record = r.record[:0]
	r.depth = 0
	r.inString = false
	r.escaped = false
}

// scanBraces tracks object depth, ignoring braces inside JSON strings.
func (r *RecordBuffer) scanBraces(line string) {
	for i := 0; i < len(line); i++ {
		c := line[i]
		if r.inString {
			switch {
			case r.escaped:
				r.escaped = false
			case c == '\\':
				r.escaped = true
			case c == '"':
				r.inString = false
			}
			continue
		}
		switch c {
		case '"':
			r.inString = true
		case '{':
			r.depth++
		case '}':
			r.depth--
		}
	}
}
