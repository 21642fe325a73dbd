// Package component holds the shared contract of per-feature state holders.
//
// A component registers its routing keys at construction, keeps the last
// dispatched value of each field in a Value and raises a change only when
// the new value differs from the held one. Every change is also published
// on the device Bus so consumers can watch a whole codec at once.
package component

import (
	"sync"

	"github.com/danmuck/codecctl/internal/codec/dispatch"
)

// Component is the capability set every feature exposes to its device.
type Component interface {
	Name() string
	// InitCommands are the outbound requests that prime the component's
	// state after connect. Replies may arrive zero or more times.
	InitCommands() []string
	// Snapshot returns the current field values keyed by field name.
	Snapshot() map[string]any
	Close()
}

// Handles collects dispatcher registrations so a component can drop them
// all on teardown.
type Handles struct {
	mu   sync.Mutex
	regs []*dispatch.Registration
}

// Keep records reg, passing through the register error.
func (h *Handles) Keep(reg *dispatch.Registration, err error) error {
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.regs = append(h.regs, reg)
	h.mu.Unlock()
	return nil
}

// Close cancels every kept registration.
func (h *Handles) Close() {
	h.mu.Lock()
	regs := h.regs
	h.regs = nil
	h.mu.Unlock()
	for _, r := range regs {
		r.Cancel()
	}
}

// Subscription is the handle returned by OnChange and Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}
