// Package transport opens the character streams codecs talk over.
//
// A Dialer yields one io.ReadWriteCloser per connection attempt; the
// Supervisor redials with backoff whenever a session ends.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

var (
	ErrInvalidAddress = errors.New("transport: invalid address")
	ErrInvalidConfig  = errors.New("transport: invalid config")
)

// Dialer opens a fresh stream to a codec.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function into a Dialer.
type DialerFunc func(ctx context.Context) (io.ReadWriteCloser, error)

func (f DialerFunc) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	return f(ctx)
}

// TCP dials a raw socket, e.g. a telnet control port.
type TCP struct {
	Addr        string
	DefaultPort string
	Timeout     time.Duration
}

func (t TCP) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	addr, err := hostPort(t.Addr, t.DefaultPort)
	if err != nil {
		return nil, err
	}
	d := net.Dialer{Timeout: t.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return conn, nil
}

func hostPort(addr, defaultPort string) (string, error) {
	host := strings.TrimSpace(addr)
	if host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidAddress)
	}
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	if defaultPort == "" {
		return "", fmt.Errorf("%w: %q has no port", ErrInvalidAddress, host)
	}
	return net.JoinHostPort(host, defaultPort), nil
}
