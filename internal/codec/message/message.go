// Package message holds the parsed forms of codec frames.
//
// Three shapes exist, one per wire family:
//   - Document: path-addressed XML element trees (Cisco xAPI)
//   - Record: keyed JSON records (Zoom Room ZRC)
//   - Opaque: the frame text itself (Polycom, Vaddio)
//
// Parsers are pure. A frame that violates its grammar fails with
// ErrMalformedFrame and affects only that frame. Elements and keys the
// parser does not know are kept under their path, never dropped.
package message

import (
	"errors"
	"strconv"
	"strings"
)

var ErrMalformedFrame = errors.New("message: malformed frame")

// Opaque is a frame routed by connection rather than by content.
type Opaque string

// Lines splits an opaque frame into trimmed, non-empty lines.
func (o Opaque) Lines() []string {
	raw := strings.Split(strings.ReplaceAll(string(o), "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// ParseBool reads the boolean spellings codecs use on the wire.
func ParseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "on", "yes", "1", "active":
		return true, true
	case "false", "off", "no", "0", "inactive":
		return false, true
	default:
		return false, false
	}
}

// ParseInt is strconv.Atoi over trimmed input with an ok flag.
func ParseInt(raw string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return v, true
}
