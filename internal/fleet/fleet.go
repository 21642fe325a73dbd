// Package fleet runs the configured codecs: one supervised connection per
// inventory entry, each rebuilt from scratch after every reconnect.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/device"
	"github.com/danmuck/codecctl/internal/codec/directory"
	"github.com/danmuck/codecctl/internal/codec/session"
	"github.com/danmuck/codecctl/internal/config"
	"github.com/danmuck/codecctl/internal/observability"
	"github.com/danmuck/codecctl/internal/transport"
)

var (
	ErrUnknownCodec  = errors.New("fleet: unknown codec")
	ErrNotConnected  = errors.New("fleet: codec not connected")
	ErrUnknownVendor = errors.New("fleet: unknown vendor")
	ErrDuplicateID   = errors.New("fleet: duplicate codec id")
)

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	// StateFailed means the supervisor gave up redialing.
	StateFailed State = "failed"
)

// Config configures the runtime.
type Config struct {
	Session     session.Config
	Backoff     transport.BackoffConfig
	DialTimeout time.Duration
	// MaxDialAttempts bounds consecutive failed dials per codec; 0 redials
	// forever.
	MaxDialAttempts int
}

func DefaultConfig() Config {
	return Config{
		Session:     session.DefaultConfig(),
		Backoff:     transport.DefaultBackoff(),
		DialTimeout: 5 * time.Second,
	}
}

// Forwarder receives every change event of every live codec.
type Forwarder interface {
	Attach(ctx context.Context, bus *component.Bus) *component.Subscription
}

// DirectorySyncer is implemented by codecs that can pull their phonebook.
type DirectorySyncer interface {
	SyncDirectory(ctx context.Context) error
}

// Status is the externally visible state of one inventory entry.
type Status struct {
	ID          string    `json:"id"`
	Vendor      string    `json:"vendor"`
	Addr        string    `json:"addr"`
	State       State     `json:"state"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	Reconnects  int       `json:"reconnects"`
	LastError   string    `json:"last_error,omitempty"`
}

type entry struct {
	cfg    config.CodecConfig
	dialer transport.Dialer

	mu          sync.RWMutex
	codec       device.Codec
	state       State
	connectedAt time.Time
	sessions    int
	lastErr     string
}

func (e *entry) status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reconnects := e.sessions - 1
	if reconnects < 0 {
		reconnects = 0
	}
	return Status{
		ID:          e.cfg.ID,
		Vendor:      e.cfg.Vendor,
		Addr:        e.cfg.Addr,
		State:       e.state,
		ConnectedAt: e.connectedAt,
		Reconnects:  reconnects,
		LastError:   e.lastErr,
	}
}

func (e *entry) live() (device.Codec, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.codec, e.codec != nil
}

// started counts a dialed session. The codec is attached once built.
func (e *entry) started() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions++
	e.lastErr = ""
}

func (e *entry) attach(c device.Codec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codec = c
	e.state = StateConnected
	e.connectedAt = time.Now()
}

func (e *entry) disconnected(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codec = nil
	e.state = StateDisconnected
	e.connectedAt = time.Time{}
	if err != nil {
		e.lastErr = err.Error()
	}
}

func (e *entry) failed(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codec = nil
	e.state = StateFailed
	e.lastErr = err.Error()
}

// Runtime owns every codec connection.
type Runtime struct {
	cfg       Config
	factories map[string]Factory
	forward   Forwarder
	codecs    *xsync.MapOf[string, *entry]
}

type Option func(*Runtime)

// WithFactory overrides the device constructor for vendor.
func WithFactory(vendor string, f Factory) Option {
	return func(r *Runtime) {
		r.factories[vendor] = f
	}
}

// WithForwarder sends every change event to f.
func WithForwarder(f Forwarder) Option {
	return func(r *Runtime) {
		r.forward = f
	}
}

func New(cfg Config, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:       cfg,
		factories: DefaultFactories(),
		codecs:    xsync.NewMapOf[string, *entry](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers an inventory entry reachable through dialer.
func (r *Runtime) Add(c config.CodecConfig, dialer transport.Dialer) error {
	id := strings.TrimSpace(c.ID)
	if id == "" {
		return fmt.Errorf("%w: blank id", ErrUnknownCodec)
	}
	if _, ok := r.factories[c.Vendor]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVendor, c.Vendor)
	}
	c.ID = id
	if _, loaded := r.codecs.LoadOrStore(id, &entry{cfg: c, dialer: dialer, state: StateConnecting}); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	return nil
}

// Run supervises every added codec until ctx ends.
func (r *Runtime) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	r.codecs.Range(func(_ string, e *entry) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup := &transport.Supervisor{
				Name:         e.cfg.ID,
				Dialer:       e.dialer,
				Backoff:      r.cfg.Backoff,
				MaxAttempts:  r.cfg.MaxDialAttempts,
				OnConnect:    e.started,
				OnDisconnect: e.disconnected,
			}
			if err := sup.Run(ctx, func(ctx context.Context, rw io.ReadWriteCloser) error {
				return r.serve(ctx, e, rw)
			}); err != nil {
				e.failed(err)
				log.Error().Str("codec", e.cfg.ID).Err(err).Msg("fleet: supervisor stopped")
			}
		}()
		return true
	})
	wg.Wait()
	return nil
}

// serve runs one connection of e until it ends. The supervisor records
// the outcome on e.
func (r *Runtime) serve(ctx context.Context, e *entry, rw io.ReadWriteCloser) error {
	codec, err := r.factories[e.cfg.Vendor](e.cfg.ID, rw, r.cfg.Session)
	if err != nil {
		return err
	}
	defer codec.Close()

	if r.forward != nil {
		sub := r.forward.Attach(ctx, codec.Bus())
		defer sub.Cancel()
	}
	dirSub := watchDirectory(e.cfg.ID, codec.Directory())
	defer dirSub.Cancel()

	e.attach(codec)
	log.Info().Str("codec", e.cfg.ID).Str("vendor", e.cfg.Vendor).Msg("fleet: codec connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- codec.Run(connCtx) }()

	if err := codec.Init(connCtx); err != nil {
		cancel()
		<-done
		return err
	}
	if syncer, ok := codec.(DirectorySyncer); ok && e.cfg.SyncDirectory {
		go func() {
			if err := syncer.SyncDirectory(connCtx); err != nil {
				log.Warn().Str("codec", e.cfg.ID).Err(err).Msg("fleet: directory sync failed")
				return
			}
			stats := codec.Directory().Stats()
			log.Info().Str("codec", e.cfg.ID).Int("folders", stats.Folders).Int("contacts", stats.Contacts).Msg("fleet: directory synced")
		}()
	}

	return <-done
}

func watchDirectory(id string, dir *directory.Directory) *directory.Subscription {
	observability.SetDirectoryEntries(id, 0, 0)
	return dir.OnChange(func(directory.Change) {
		stats := dir.Stats()
		observability.SetDirectoryEntries(id, stats.Folders, stats.Contacts)
	})
}

// Codec returns the live device for id.
func (r *Runtime) Codec(id string) (device.Codec, error) {
	e, ok := r.codecs.Load(strings.TrimSpace(id))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, id)
	}
	c, ok := e.live()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return c, nil
}

// Status reports one entry.
func (r *Runtime) Status(id string) (Status, error) {
	e, ok := r.codecs.Load(strings.TrimSpace(id))
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownCodec, id)
	}
	return e.status(), nil
}

// List reports every entry sorted by id.
func (r *Runtime) List() []Status {
	out := make([]Status, 0, r.codecs.Size())
	r.codecs.Range(func(_ string, e *entry) bool {
		out = append(out, e.status())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
