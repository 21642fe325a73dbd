package component

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Event is one field change on a device.
type Event struct {
	Device    string    `json:"device"`
	Component string    `json:"component"`
	Field     string    `json:"field"`
	Value     any       `json:"value"`
	At        time.Time `json:"at"`
}

type busListener struct {
	id uint64
	fn func(Event)
}

// Bus fans change events of one device out to subscribers.
type Bus struct {
	device string
	now    func() time.Time

	mu        sync.RWMutex
	listeners []busListener
	seq       atomic.Uint64
}

func NewBus(device string) *Bus {
	return &Bus{device: device, now: time.Now}
}

func (b *Bus) Device() string {
	return b.device
}

// Subscribe registers fn for every event on the bus.
func (b *Bus) Subscribe(fn func(Event)) *Subscription {
	id := b.seq.Add(1)
	b.mu.Lock()
	b.listeners = append(slices.Clone(b.listeners), busListener{id: id, fn: fn})
	b.mu.Unlock()
	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.listeners = slices.DeleteFunc(slices.Clone(b.listeners), func(l busListener) bool {
			return l.id == id
		})
	}}
}

// Publish stamps ev with the device and time and delivers it.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	ev.Device = b.device
	if ev.At.IsZero() {
		ev.At = b.now()
	}
	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()
	for _, l := range listeners {
		b.deliver(l, ev)
	}
}

func (b *Bus) deliver(l busListener, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("device", b.device).Str("component", ev.Component).Interface("panic", rec).Msg("component: bus listener panicked")
		}
	}()
	l.fn(ev)
}

// Track publishes every change of v on bus as component/field.
func Track[T any](v *Value[T], bus *Bus, component, field string) *Subscription {
	return v.OnChange(func(_, next T) {
		bus.Publish(Event{Component: component, Field: field, Value: next})
	})
}
