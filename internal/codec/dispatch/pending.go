package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type result[M any] struct {
	msg M
	err error
}

// Pending is one outstanding reply registration.
type Pending[M any] struct {
	key   string
	token string
	ch    chan result[M]
	d     *Dispatcher[M]
}

func (p *Pending[M]) Key() string {
	return p.key
}

func (p *Pending[M]) Token() string {
	return p.token
}

// Wait blocks until the reply arrives or ctx ends. A deadline maps to
// ErrReplyTimeout; either way the waiter leaves the queue so a late reply
// falls through to feedback handlers.
func (p *Pending[M]) Wait(ctx context.Context) (M, error) {
	select {
	case r := <-p.ch:
		return r.msg, r.err
	case <-ctx.Done():
	}

	if !p.d.removeWaiter(p) {
		// Already popped by Dispatch or Close; the result is in flight.
		r := <-p.ch
		return r.msg, r.err
	}
	var zero M
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return zero, fmt.Errorf("%w: %s", ErrReplyTimeout, p.key)
	}
	return zero, ctx.Err()
}

// WaitTimeout is Wait with a relative deadline.
func (p *Pending[M]) WaitTimeout(timeout time.Duration) (M, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return p.Wait(ctx)
}

// Cancel withdraws the registration without waiting.
func (p *Pending[M]) Cancel() {
	p.d.removeWaiter(p)
}
