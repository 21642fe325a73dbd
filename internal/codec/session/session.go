// Package session runs one codec connection: bytes in, frames out,
// messages dispatched.
//
// Ownership boundary:
//   - the connection's frame buffer and dispatcher (one of each per Conn)
//   - the sequential read loop: frames are parsed and dispatched strictly in
//     arrival order, each handler completing before the next frame
//   - serialized outbound writes and request/reply correlation
//
// The vendor supplies a Protocol: its buffer, parser and resolver.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/codecctl/internal/codec/dispatch"
	"github.com/danmuck/codecctl/internal/codec/frame"
	"github.com/danmuck/codecctl/internal/observability"
	"github.com/frostbyte73/core"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnClosed    = errors.New("session: connection closed")
	ErrEmptyCommand  = errors.New("session: empty command")
	ErrInvalidConfig = errors.New("session: invalid config")
)

// Protocol is the per-vendor parameter set of a connection.
type Protocol[M any] struct {
	Vendor    string
	NewBuffer func() frame.Buffer
	Parse     func(frame.Frame) (M, error)
	Resolve   dispatch.Resolver[M]
	// LineEnding is appended to outbound commands that lack it.
	LineEnding string
	// ReplyKey is set on protocols that correlate replies by order alone.
	// It names the key a command's reply arrives on, or "" when the
	// command gets no reply. Every command then takes a reply slot on
	// that key when it is written, so replies to plain sends never
	// complete a later Request.
	ReplyKey func(cmd string) string
}

// Config holds connection timing.
type Config struct {
	ReplyTimeout time.Duration
	WriteTimeout time.Duration
	ReadSize     int
}

func DefaultConfig() Config {
	return Config{
		ReplyTimeout: 5 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadSize:     4096,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = def.ReplyTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadSize <= 0 {
		c.ReadSize = def.ReadSize
	}
	return c
}

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// Conn is one live codec connection.
type Conn[M any] struct {
	id    string
	proto Protocol[M]
	cfg   Config
	rw    io.ReadWriteCloser
	buf   frame.Buffer
	disp  *dispatch.Dispatcher[M]

	// feedMu keeps frame processing sequential when Feed is called from
	// outside Run.
	feedMu    sync.Mutex
	wmu       sync.Mutex
	closed    core.Fuse
	closeOnce sync.Once
	closeErr  error
}

// New binds proto to rw. The connection does not read until Run.
func New[M any](id string, proto Protocol[M], rw io.ReadWriteCloser, cfg Config) (*Conn[M], error) {
	id = strings.TrimSpace(id)
	if id == "" || proto.NewBuffer == nil || proto.Parse == nil || proto.Resolve == nil {
		return nil, fmt.Errorf("%w: id, buffer, parser and resolver are required", ErrInvalidConfig)
	}
	if rw == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	return &Conn[M]{
		id:    id,
		proto: proto,
		cfg:   cfg.withDefaults(),
		rw:    rw,
		buf:   proto.NewBuffer(),
		disp:  dispatch.New(id, proto.Resolve),
	}, nil
}

func (c *Conn[M]) ID() string {
	return c.id
}

func (c *Conn[M]) Vendor() string {
	return c.proto.Vendor
}

// Dispatcher is where components register their keys.
func (c *Conn[M]) Dispatcher() *dispatch.Dispatcher[M] {
	return c.disp
}

// Done is closed once the connection is closed.
func (c *Conn[M]) Done() <-chan struct{} {
	return c.closed.Watch()
}

// Run reads until ctx ends, the peer hangs up or Close is called. A read
// error closes the connection and is returned; shutdown through ctx or
// Close returns nil.
func (c *Conn[M]) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	chunk := make([]byte, c.cfg.ReadSize)
	for {
		n, err := c.rw.Read(chunk)
		if n > 0 {
			c.Feed(chunk[:n])
		}
		if err == nil {
			continue
		}
		if c.closed.IsBroken() || ctx.Err() != nil {
			return nil
		}
		_ = c.Close()
		if errors.Is(err, io.EOF) {
			log.Info().Str("codec", c.id).Msg("session: peer closed connection")
			return fmt.Errorf("%w: %v", ErrConnClosed, err)
		}
		log.Warn().Err(err).Str("codec", c.id).Msg("session: read failed")
		return fmt.Errorf("session: read %s: %w", c.id, err)
	}
}

// Feed pushes one chunk through the buffer, parses every complete frame
// and dispatches it. It returns the number of frames dispatched. A
// malformed frame is logged and skipped; later frames are unaffected.
func (c *Conn[M]) Feed(chunk []byte) int {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()

	frames := c.buf.Feed(chunk)
	dispatched := 0
	for _, f := range frames {
		msg, err := c.proto.Parse(f)
		if err != nil {
			observability.RecordFrameError(c.id, c.proto.Vendor)
			log.Warn().Err(err).Str("codec", c.id).Int("bytes", len(f)).Msg("session: dropping malformed frame")
			continue
		}
		observability.RecordFrame(c.id, c.proto.Vendor)
		if c.disp.Dispatch(msg) == 0 {
			observability.RecordUnrouted(c.id)
		}
		dispatched++
	}
	return dispatched
}

// Send writes one command, terminated by the protocol line ending.
func (c *Conn[M]) Send(cmd string) error {
	_, err := c.submit(cmd, func(cmd string) (*dispatch.Pending[M], error) {
		if c.proto.ReplyKey == nil {
			return nil, nil
		}
		key := c.proto.ReplyKey(cmd)
		if key == "" {
			return nil, nil
		}
		slot, err := c.disp.RegisterSync(key, "")
		if err != nil {
			return nil, err
		}
		// The reply itself still reaches feedback handlers; the slot only
		// holds its place in the queue and is withdrawn if none arrives.
		time.AfterFunc(c.cfg.ReplyTimeout, slot.Cancel)
		return slot, nil
	})
	return err
}

// Request registers a reply waiter on key, sends cmd and waits for the
// reply. Without a deadline on ctx the configured reply timeout applies.
// Calling it from a dispatch handler would block the read loop that
// delivers the reply, so handlers hand requests to another goroutine.
func (c *Conn[M]) Request(ctx context.Context, key, token, cmd string) (M, error) {
	var zero M
	pending, err := c.submit(cmd, func(string) (*dispatch.Pending[M], error) {
		return c.disp.RegisterSync(key, token)
	})
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ReplyTimeout)
		defer cancel()
	}
	msg, err := pending.Wait(ctx)
	if errors.Is(err, dispatch.ErrReplyTimeout) {
		observability.RecordReplyTimeout(c.id)
		log.Warn().Str("codec", c.id).Str("key", key).Msg("session: no reply before deadline")
	}
	return msg, err
}

// submit registers the reply waiter for cmd, if any, and writes cmd under
// the write lock, so waiters queue in the order their commands hit the
// wire.
func (c *Conn[M]) submit(cmd string, register func(cmd string) (*dispatch.Pending[M], error)) (*dispatch.Pending[M], error) {
	cmd = strings.TrimRight(cmd, "\r\n")
	if strings.TrimSpace(cmd) == "" {
		return nil, ErrEmptyCommand
	}
	if c.closed.IsBroken() {
		return nil, ErrConnClosed
	}
	line := cmd + c.proto.LineEnding

	c.wmu.Lock()
	defer c.wmu.Unlock()
	pending, err := register(cmd)
	if err != nil {
		return nil, err
	}
	if dw, ok := c.rw.(deadlineWriter); ok {
		_ = dw.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := io.WriteString(c.rw, line); err != nil {
		if pending != nil {
			pending.Cancel()
		}
		return nil, fmt.Errorf("session: write %s: %w", c.id, err)
	}
	log.Debug().Str("codec", c.id).Str("command", cmd).Msg("session: sent")
	return pending, nil
}

// Close shuts the transport and fails outstanding requests.
func (c *Conn[M]) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Break()
		c.disp.Close()
		c.closeErr = c.rw.Close()
	})
	return c.closeErr
}
