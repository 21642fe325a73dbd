// Package device assembles a connection, its components and its directory
// into one controllable codec.
package device

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/directory"
	"github.com/danmuck/codecctl/internal/codec/session"
	"github.com/rs/zerolog/log"
)

var ErrDuplicateComponent = errors.New("device: component already added")

// Codec is the vendor-neutral surface the fleet drives.
type Codec interface {
	ID() string
	Vendor() string
	Run(ctx context.Context) error
	Init(ctx context.Context) error
	Send(cmd string) error
	Bus() *component.Bus
	Directory() *directory.Directory
	Snapshot() map[string]map[string]any
	Close() error
}

// Device is the shared Codec implementation over a typed connection.
type Device[M any] struct {
	conn       *session.Conn[M]
	bus        *component.Bus
	dir        *directory.Directory
	preamble   []string
	components []component.Component
	names      map[string]struct{}
}

// New wraps conn. preamble commands run before any component's init
// commands, e.g. switching the codec into machine output mode.
func New[M any](conn *session.Conn[M], preamble ...string) *Device[M] {
	return &Device[M]{
		conn:     conn,
		bus:      component.NewBus(conn.ID()),
		dir:      directory.New(conn.ID()),
		preamble: preamble,
		names:    make(map[string]struct{}),
	}
}

func (d *Device[M]) ID() string {
	return d.conn.ID()
}

func (d *Device[M]) Vendor() string {
	return d.conn.Vendor()
}

func (d *Device[M]) Conn() *session.Conn[M] {
	return d.conn
}

func (d *Device[M]) Bus() *component.Bus {
	return d.bus
}

func (d *Device[M]) Directory() *directory.Directory {
	return d.dir
}

// Add attaches c. Component names are unique per device.
func (d *Device[M]) Add(c component.Component) error {
	if _, ok := d.names[c.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, c.Name())
	}
	d.names[c.Name()] = struct{}{}
	d.components = append(d.components, c)
	return nil
}

func (d *Device[M]) Run(ctx context.Context) error {
	return d.conn.Run(ctx)
}

// Init sends the preamble and then every component's init commands in
// attach order. It stops at the first failed write.
func (d *Device[M]) Init(ctx context.Context) error {
	cmds := append([]string(nil), d.preamble...)
	for _, c := range d.components {
		cmds = append(cmds, c.InitCommands()...)
	}
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.conn.Send(cmd); err != nil {
			return fmt.Errorf("device: init %s: %w", d.ID(), err)
		}
	}
	log.Info().Str("codec", d.ID()).Int("commands", len(cmds)).Msg("device: init sent")
	return nil
}

func (d *Device[M]) Send(cmd string) error {
	return d.conn.Send(cmd)
}

// Snapshot returns every component's fields keyed by component name.
func (d *Device[M]) Snapshot() map[string]map[string]any {
	out := make(map[string]map[string]any, len(d.components))
	for _, c := range d.components {
		out[c.Name()] = c.Snapshot()
	}
	return out
}

// Components lists component names in sorted order.
func (d *Device[M]) Components() []string {
	names := make([]string, 0, len(d.components))
	for _, c := range d.components {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}

// Close tears components down before the connection.
func (d *Device[M]) Close() error {
	for _, c := range d.components {
		c.Close()
	}
	return d.conn.Close()
}
