package frame

import "bytes"

// XMLBuffer frames a stream of top-level XML documents sharing one root
// element name. Text outside a document (login banners, "OK" lines) is
// discarded; an open document stays buffered until its root closes.
type XMLBuffer struct {
	open  []byte
	close []byte
	buf   []byte
}

func NewXMLBuffer(root string) *XMLBuffer {
	return &XMLBuffer{
		open:  []byte("<" + root),
		close: []byte("</" + root + ">"),
	}
}

func (x *XMLBuffer) Feed(chunk []byte) []Frame {
	x.buf = append(x.buf, chunk...)
	var out []Frame
	for {
		start := x.indexOpen(0)
		if start < 0 {
			x.keepTail()
			break
		}
		if start > 0 {
			x.buf = append(x.buf[:0], x.buf[start:]...)
		}
		end, ok := x.documentEnd()
		if !ok {
			break
		}
		out = append(out, Frame(x.buf[:end]))
		x.buf = append(x.buf[:0], x.buf[end:]...)
	}
	return out
}

func (x *XMLBuffer) Pending() int {
	return len(x.buf)
}

func (x *XMLBuffer) Reset() {
	x.buf = x.buf[:0]
}

// keepTail retains only what could still be the beginning of a root tag.
func (x *XMLBuffer) keepTail() {
	if len(x.buf) <= len(x.open) {
		return
	}
	tail := x.buf[len(x.buf)-len(x.open):]
	if i := bytes.IndexByte(tail, '<'); i >= 0 {
		x.buf = append(x.buf[:0], tail[i:]...)
		return
	}
	x.buf = x.buf[:0]
}

// indexOpen finds the next root open tag at or after from. A match needs
// the byte after the name to be visible so "<XmlDocs" is not taken for
// "<XmlDoc".
func (x *XMLBuffer) indexOpen(from int) int {
	for from < len(x.buf) {
		i := bytes.Index(x.buf[from:], x.open)
		if i < 0 {
			return -1
		}
		i += from
		next := i + len(x.open)
		if next >= len(x.buf) {
			return -1
		}
		switch x.buf[next] {
		case '>', '/', ' ', '\t', '\r', '\n':
			return i
		}
		from = next
	}
	return -1
}

// documentEnd returns the offset just past the root close tag of the
// document starting at x.buf[0].
func (x *XMLBuffer) documentEnd() (int, bool) {
	gt := bytes.IndexByte(x.buf, '>')
	if gt < 0 {
		return 0, false
	}
	if x.buf[gt-1] == '/' {
		return gt + 1, true
	}
	depth := 1
	pos := gt + 1
	for depth > 0 {
		nextClose := bytes.Index(x.buf[pos:], x.close)
		if nextClose < 0 {
			return 0, false
		}
		nextClose += pos
		nextOpen := x.indexOpen(pos)
		if nextOpen >= 0 && nextOpen < nextClose {
			innerGt := bytes.IndexByte(x.buf[nextOpen:], '>')
			if innerGt < 0 {
				return 0, false
			}
			innerGt += nextOpen
			if x.buf[innerGt-1] != '/' {
				depth++
			}
			pos = innerGt + 1
			continue
		}
		depth--
		pos = nextClose + len(x.close)
	}
	return pos, true
}
