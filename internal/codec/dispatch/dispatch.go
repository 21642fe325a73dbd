// Package dispatch routes parsed codec messages to in-process handlers.
//
// Ownership boundary:
//   - the routing table (key -> feedback handlers, key -> reply waiters)
//   - synchronous reply correlation (FIFO per key, optional token)
//   - handler isolation: a panicking handler never escapes Dispatch
//
// Key extraction is vendor specific and supplied as a Resolver, so one
// Dispatcher implementation serves path, keyed and opaque routing.
package dispatch

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog/log"
)

var (
	ErrReplyTimeout     = errors.New("dispatch: no reply before deadline")
	ErrDispatcherClosed = errors.New("dispatch: dispatcher closed")
	ErrInvalidKey       = errors.New("dispatch: invalid routing key")
)

// AnyFrame is the routing key for opaque traffic: every frame on the
// connection.
const AnyFrame = "*"

// Handler receives one routed message.
type Handler[M any] func(M)

// Delivery is one routed message bound for a single key.
type Delivery[M any] struct {
	Key string
	// Token correlates a reply with the request that asked for it. Empty
	// for unsolicited feedback.
	Token string
	// Solicited marks deliveries allowed to fulfil reply waiters.
	Solicited bool
	Msg       M
}

// Table is the view of registered keys a Resolver routes against.
type Table interface {
	Has(key string) bool
	// LongestPrefix returns the longest registered key that equals path or
	// is a slash-bounded prefix of it.
	LongestPrefix(path string) (string, bool)
}

// Resolver turns a message into deliveries, one per matched key.
type Resolver[M any] func(msg M, table Table) []Delivery[M]

type handlerEntry[M any] struct {
	id uint64
	fn Handler[M]
}

type route[M any] struct {
	// handlers is replaced, never mutated, so a snapshot taken under the
	// lock stays valid while handlers run.
	handlers []handlerEntry[M]
	waiters  deque.Deque[*Pending[M]]
}

func (r *route[M]) empty() bool {
	return len(r.handlers) == 0 && r.waiters.Len() == 0
}

// Dispatcher is a process-local routing table for one connection.
type Dispatcher[M any] struct {
	name    string
	resolve Resolver[M]

	mu     sync.RWMutex
	routes map[string]*route[M]
	closed bool
	seq    atomic.Uint64
}

func New[M any](name string, resolve Resolver[M]) *Dispatcher[M] {
	return &Dispatcher[M]{
		name:    name,
		resolve: resolve,
		routes:  make(map[string]*route[M]),
	}
}

// Registration is the handle of one feedback handler.
type Registration struct {
	key    string
	id     uint64
	cancel func(key string, id uint64) bool
	once   sync.Once
}

func (r *Registration) Key() string {
	return r.key
}

// Cancel removes the handler. Safe to call more than once.
func (r *Registration) Cancel() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.cancel(r.key, r.id)
	})
}

// RegisterAsync adds a feedback handler for key. Handlers for the same key
// run in registration order. Registering the same function twice yields
// two registrations.
func (d *Dispatcher[M]) RegisterAsync(key string, fn Handler[M]) (*Registration, error) {
	key = strings.TrimSpace(key)
	if key == "" || fn == nil {
		return nil, ErrInvalidKey
	}
	id := d.seq.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.routeFor(key)
	next := make([]handlerEntry[M], 0, len(r.handlers)+1)
	next = append(next, r.handlers...)
	r.handlers = append(next, handlerEntry[M]{id: id, fn: fn})
	return &Registration{key: key, id: id, cancel: d.unregister}, nil
}

// Unregister removes the handler behind reg.
func (d *Dispatcher[M]) Unregister(reg *Registration) {
	reg.Cancel()
}

func (d *Dispatcher[M]) unregister(key string, id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.routes[key]
	if !ok {
		return false
	}
	next := make([]handlerEntry[M], 0, len(r.handlers))
	found := false
	for _, h := range r.handlers {
		if h.id == id {
			found = true
			continue
		}
		next = append(next, h)
	}
	r.handlers = next
	if r.empty() {
		delete(d.routes, key)
	}
	return found
}

// RegisterSync queues a one-shot reply waiter on key. Waiters on a key are
// served first-in first-out; a waiter with a token only accepts a
// delivery carrying the same token.
func (d *Dispatcher[M]) RegisterSync(key, token string) (*Pending[M], error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrInvalidKey
	}
	p := &Pending[M]{
		key:   key,
		token: strings.TrimSpace(token),
		ch:    make(chan result[M], 1),
		d:     d,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		p.ch <- result[M]{err: ErrDispatcherClosed}
		return p, nil
	}
	d.routeFor(key).waiters.PushBack(p)
	return p, nil
}

// Dispatch routes msg and returns how many keys it reached. Zero means
// the message was unrouted; that is not an error.
func (d *Dispatcher[M]) Dispatch(msg M) int {
	d.mu.RLock()
	deliveries := d.resolve(msg, tableView[M]{routes: d.routes})
	d.mu.RUnlock()

	reached := 0
	for _, dl := range deliveries {
		d.mu.Lock()
		r, ok := d.routes[dl.Key]
		if !ok {
			d.mu.Unlock()
			continue
		}
		waiter := takeWaiter(r, dl)
		handlers := r.handlers
		if r.empty() {
			delete(d.routes, dl.Key)
		}
		d.mu.Unlock()

		if waiter == nil && len(handlers) == 0 {
			continue
		}
		reached++
		if waiter != nil {
			waiter.ch <- result[M]{msg: dl.Msg}
		}
		for _, h := range handlers {
			d.invoke(dl.Key, h, dl.Msg)
		}
	}
	if reached == 0 {
		log.Debug().Str("dispatcher", d.name).Int("candidates", len(deliveries)).Msg("dispatch: unrouted message")
	}
	return reached
}

// Keys lists registered keys in sorted order.
func (d *Dispatcher[M]) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.routes))
	for k := range d.routes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Outstanding counts reply waiters queued on key.
func (d *Dispatcher[M]) Outstanding(key string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.routes[key]
	if !ok {
		return 0
	}
	return r.waiters.Len()
}

// Close fails every queued waiter with ErrDispatcherClosed. Feedback
// handlers stay registered; later waiters fail immediately.
func (d *Dispatcher[M]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for key, r := range d.routes {
		for r.waiters.Len() > 0 {
			r.waiters.PopFront().ch <- result[M]{err: ErrDispatcherClosed}
		}
		if r.empty() {
			delete(d.routes, key)
		}
	}
}

func (d *Dispatcher[M]) routeFor(key string) *route[M] {
	r, ok := d.routes[key]
	if !ok {
		r = &route[M]{}
		d.routes[key] = r
	}
	return r
}

func (d *Dispatcher[M]) removeWaiter(p *Pending[M]) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.routes[p.key]
	if !ok {
		return false
	}
	i := r.waiters.Index(func(w *Pending[M]) bool { return w == p })
	if i < 0 {
		return false
	}
	r.waiters.Remove(i)
	if r.empty() {
		delete(d.routes, p.key)
	}
	return true
}

func (d *Dispatcher[M]) invoke(key string, h handlerEntry[M], msg M) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("dispatcher", d.name).
				Str("key", key).
				Uint64("handler", h.id).
				Interface("panic", rec).
				Msg("dispatch: handler panicked")
		}
	}()
	h.fn(msg)
}

// takeWaiter pops the first waiter dl may fulfil. Caller holds d.mu.
func takeWaiter[M any](r *route[M], dl Delivery[M]) *Pending[M] {
	if !dl.Solicited || r.waiters.Len() == 0 {
		return nil
	}
	i := r.waiters.Index(func(w *Pending[M]) bool {
		return w.token == "" || w.token == dl.Token
	})
	if i < 0 {
		return nil
	}
	return r.waiters.Remove(i)
}

type tableView[M any] struct {
	routes map[string]*route[M]
}

func (t tableView[M]) Has(key string) bool {
	_, ok := t.routes[key]
	return ok
}

func (t tableView[M]) LongestPrefix(path string) (string, bool) {
	p := strings.Trim(path, "/")
	for p != "" {
		if _, ok := t.routes[p]; ok {
			return p, true
		}
		i := strings.LastIndexByte(p, '/')
		if i < 0 {
			break
		}
		p = p[:i]
	}
	return "", false
}
