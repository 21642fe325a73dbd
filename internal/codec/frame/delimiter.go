package frame

import (
	"bytes"
	"strings"
)

// DelimiterConfig parameterises a DelimiterBuffer for one vendor.
type DelimiterConfig struct {
	// Terminator is the exact token sequence closing a frame. A single
	// character that merely appears inside content never closes a frame
	// unless it is the whole terminator.
	Terminator string
	// AtLineStart only accepts the terminator at the beginning of a line,
	// which is how interactive prompts such as ">" are told apart from content.
	AtLineStart bool
	// Filter cleans each segment. nil keeps every non-blank segment.
	Filter NoiseFilter
}

// DelimiterBuffer frames a stream on an exact terminator token.
type DelimiterBuffer struct {
	cfg       DelimiterConfig
	term      []byte
	buf       []byte
	scanFrom  int
	lineStart bool
}

func NewDelimiterBuffer(cfg DelimiterConfig) *DelimiterBuffer {
	if cfg.Terminator == "" {
		cfg.Terminator = "\r\n"
	}
	return &DelimiterBuffer{
		cfg:       cfg,
		term:      []byte(cfg.Terminator),
		lineStart: true,
	}
}

func (d *DelimiterBuffer) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)
	var out []Frame
	for {
		idx := d.find()
		if idx < 0 {
			break
		}
		raw := string(d.buf[:idx])
		end := idx + len(d.term)
		d.lineStart = d.term[len(d.term)-1] == '\n'
		d.buf = append(d.buf[:0], d.buf[end:]...)
		d.scanFrom = 0
		if clean, ok := d.clean(raw); ok {
			out = append(out, Frame(clean))
		}
	}
	d.scanFrom = len(d.buf) - len(d.term) + 1
	if d.scanFrom < 0 {
		d.scanFrom = 0
	}
	return out
}

func (d *DelimiterBuffer) Pending() int {
	return len(d.buf)
}

func (d *DelimiterBuffer) Reset() {
	d.buf = d.buf[:0]
	d.scanFrom = 0
	d.lineStart = true
}

func (d *DelimiterBuffer) find() int {
	from := d.scanFrom
	for from <= len(d.buf) {
		i := bytes.Index(d.buf[from:], d.term)
		if i < 0 {
			return -1
		}
		i += from
		if !d.cfg.AtLineStart || d.atLineStart(i) {
			return i
		}
		from = i + 1
	}
	return -1
}

func (d *DelimiterBuffer) atLineStart(i int) bool {
	if i == 0 {
		return d.lineStart
	}
	return d.buf[i-1] == '\n'
}

func (d *DelimiterBuffer) clean(raw string) (string, bool) {
	raw = strings.TrimLeft(raw, "\r\n")
	if d.cfg.Filter != nil {
		var ok bool
		raw, ok = d.cfg.Filter(raw)
		if !ok {
			return "", false
		}
	}
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	return raw, true
}

// LoginFilter drops the interactive login dialog from delimited segments.
type LoginFilter struct {
	// UserPrompts are prompts answered with an echoed user name on the
	// following line, e.g. "login:".
	UserPrompts []string
	// SecretPrompts are prompts whose answer is never echoed, e.g. "Password:".
	SecretPrompts []string
	// Banners are line prefixes printed around a login, e.g. "Welcome".
	Banners []string
}

// Filter implements NoiseFilter.
func (l LoginFilter) Filter(raw string) (string, bool) {
	var kept strings.Builder
	skipEcho := false
	for _, line := range strings.SplitAfter(raw, "\n") {
		if line == "" {
			continue
		}
		body := strings.TrimSpace(line)
		if skipEcho {
			skipEcho = false
			continue
		}
		if p, ok := matchPrompt(body, l.UserPrompts); ok {
			skipEcho = strings.EqualFold(body, p)
			continue
		}
		if _, ok := matchPrompt(body, l.SecretPrompts); ok {
			continue
		}
		if hasAnyPrefix(body, l.Banners) {
			continue
		}
		kept.WriteString(line)
	}
	out := strings.TrimLeft(kept.String(), "\r\n")
	return out, strings.TrimSpace(out) != ""
}

// StripPrompt removes any number of leading prompt markers such as "-> ".
func StripPrompt(prompt string) NoiseFilter {
	return func(raw string) (string, bool) {
		if prompt == "" {
			return raw, true
		}
		for strings.HasPrefix(raw, prompt) {
			raw = strings.TrimPrefix(raw, prompt)
		}
		return raw, true
	}
}

func matchPrompt(body string, prompts []string) (string, bool) {
	lower := strings.ToLower(body)
	for _, p := range prompts {
		if p != "" && strings.HasPrefix(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

func hasAnyPrefix(body string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(body, p) {
			return true
		}
	}
	return false
}
