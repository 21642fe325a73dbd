// Package frame cuts complete protocol frames out of raw codec streams.
//
// A Buffer is owned by exactly one connection and must be fed chunks in
// arrival order. Chunk boundaries carry no meaning: a frame may span any
// number of chunks and a chunk may close any number of frames. Data that
// does not yet form a complete frame stays buffered; nothing is ever
// force-emitted from a truncated buffer.
package frame

// Frame is one complete, self-terminated unit of protocol text.
type Frame string

// Buffer accumulates stream chunks and yields complete frames in stream order.
type Buffer interface {
	// Feed appends chunk and returns every frame it completed.
	Feed(chunk []byte) []Frame
	// Pending reports how many bytes are held waiting for more data.
	Pending() int
	// Reset drops buffered data, used when a transport reconnects.
	Reset()
}

// NoiseFilter cleans one raw delimited segment. ok=false drops the segment
// because it carries nothing meaningful (banners, prompts, blank lines).
type NoiseFilter func(raw string) (clean string, ok bool)

// Chain applies filters in order and stops at the first drop.
func Chain(filters ...NoiseFilter) NoiseFilter {
	return func(raw string) (string, bool) {
		out := raw
		for _, f := range filters {
			if f == nil {
				continue
			}
			var ok bool
			out, ok = f(out)
			if !ok {
				return "", false
			}
		}
		return out, true
	}
}
