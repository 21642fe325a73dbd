package cisco

import (
	"slices"

	"github.com/danmuck/codecctl/internal/codec/message"
)

// mergeItems applies item-addressed updates to cur and returns a new slice
// ordered by item. Feedback carries only the fields that changed, so apply
// receives the held entry to update in place. A ghost node removes its item.
func mergeItems[T any](cur []T, nodes []*message.Node, itemOf func(T) int, apply func(T, *message.Node) T) []T {
	out := slices.Clone(cur)
	for _, n := range nodes {
		i := slices.IndexFunc(out, func(v T) bool { return itemOf(v) == n.Item })
		if isGhost(n) {
			if i >= 0 {
				out = slices.Delete(out, i, i+1)
			}
			continue
		}
		var v T
		if i >= 0 {
			v = out[i]
		}
		v = apply(v, n)
		if i >= 0 {
			out[i] = v
		} else {
			out = append(out, v)
		}
	}
	slices.SortStableFunc(out, func(a, b T) int { return itemOf(a) - itemOf(b) })
	return out
}

// text returns the child value when present, else fallback.
func text(n *message.Node, path, fallback string) string {
	if v, ok := n.Value(path); ok {
		return v
	}
	return fallback
}

func number(n *message.Node, path string, fallback int) int {
	if v, ok := n.Int(path); ok {
		return v
	}
	return fallback
}
