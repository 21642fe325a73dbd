package component

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog/log"
)

type valueListener[T any] struct {
	id uint64
	fn func(old, next T)
}

// Value is one tracked field. Equality decides whether a Set is a change;
// structured values compare by content.
type Value[T any] struct {
	equal func(a, b T) bool

	mu  sync.RWMutex
	cur T
	set bool

	lmu       sync.RWMutex
	listeners []valueListener[T]
	seq       atomic.Uint64
}

// NewValue builds a Value compared with equal, or with cmp.Equal when equal
// is nil.
func NewValue[T any](equal func(a, b T) bool) *Value[T] {
	if equal == nil {
		equal = func(a, b T) bool { return cmp.Equal(a, b) }
	}
	return &Value[T]{equal: equal}
}

// Comparable builds a Value for a comparable type using ==.
func Comparable[T comparable]() *Value[T] {
	return NewValue(func(a, b T) bool { return a == b })
}

// Get returns the held value and whether one was ever set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cur, v.set
}

// Set stores next and reports whether it changed the held value. The first
// Set always counts as a change. Listeners run after the lock is released.
func (v *Value[T]) Set(next T) bool {
	v.mu.Lock()
	old := v.cur
	if v.set && v.equal(old, next) {
		v.mu.Unlock()
		return false
	}
	v.cur = next
	v.set = true
	v.mu.Unlock()

	v.lmu.RLock()
	listeners := v.listeners
	v.lmu.RUnlock()
	for _, l := range listeners {
		callListener(l.fn, old, next)
	}
	return true
}

// OnChange registers fn for changes; listeners run in registration order.
func (v *Value[T]) OnChange(fn func(old, next T)) *Subscription {
	id := v.seq.Add(1)
	v.lmu.Lock()
	v.listeners = append(slices.Clone(v.listeners), valueListener[T]{id: id, fn: fn})
	v.lmu.Unlock()
	return &Subscription{cancel: func() {
		v.lmu.Lock()
		defer v.lmu.Unlock()
		v.listeners = slices.DeleteFunc(slices.Clone(v.listeners), func(l valueListener[T]) bool {
			return l.id == id
		})
	}}
}

func callListener[T any](fn func(old, next T), old, next T) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("component: change listener panicked")
		}
	}()
	fn(old, next)
}
