package dispatch

// ByKey routes every message to the single key keyOf names. Keyed
// protocols and opaque connections use it.
func ByKey[M any](keyOf func(M) Delivery[M]) Resolver[M] {
	return func(msg M, table Table) []Delivery[M] {
		dl := keyOf(msg)
		if dl.Key == "" || !table.Has(dl.Key) {
			return nil
		}
		dl.Msg = msg
		return []Delivery[M]{dl}
	}
}

// Opaque routes every message to AnyFrame.
func Opaque[M any]() Resolver[M] {
	return ByKey(func(M) Delivery[M] {
		return Delivery[M]{Key: AnyFrame, Solicited: true}
	})
}

// PathSource describes a message that carries several addressable paths.
type PathSource[M any] struct {
	// Paths lists the leaf paths of a message in document order.
	Paths func(M) []string
	// Scope narrows a message to the subtree at key.
	Scope func(M, string) M
	// Token returns the correlation token of a solicited message.
	Token func(M) string
}

// ByPrefix maps each path of a message to its longest registered prefix
// and delivers the message once per matched key, scoped to that key, in
// first-match order. Paths with no registered prefix are dropped.
func ByPrefix[M any](src PathSource[M]) Resolver[M] {
	return func(msg M, table Table) []Delivery[M] {
		var (
			keys []string
			seen = map[string]bool{}
		)
		for _, p := range src.Paths(msg) {
			key, ok := table.LongestPrefix(p)
			if !ok || seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}
		if len(keys) == 0 {
			return nil
		}
		token := ""
		if src.Token != nil {
			token = src.Token(msg)
		}
		out := make([]Delivery[M], 0, len(keys))
		for _, key := range keys {
			scoped := msg
			if src.Scope != nil {
				scoped = src.Scope(msg, key)
			}
			out = append(out, Delivery[M]{Key: key, Token: token, Solicited: true, Msg: scoped})
		}
		return out
	}
}
