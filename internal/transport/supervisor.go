package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrGaveUp = errors.New("transport: gave up redialing")

// Session consumes one connected stream until it ends.
type Session func(ctx context.Context, rw io.ReadWriteCloser) error

// Supervisor keeps a codec connected, redialing with backoff.
type Supervisor struct {
	Name    string
	Dialer  Dialer
	Backoff BackoffConfig
	// MaxAttempts bounds consecutive failed dials; 0 retries forever.
	MaxAttempts int
	// OnConnect and OnDisconnect observe session boundaries.
	OnConnect    func()
	OnDisconnect func(err error)

	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// Run dials and runs sessions until ctx ends. A session that ran resets
// the attempt counter, so only consecutive dial failures back off.
func (s *Supervisor) Run(ctx context.Context, run Session) error {
	if s.Dialer == nil || run == nil {
		return fmt.Errorf("%w: supervisor %q needs a dialer and a session", ErrInvalidConfig, s.Name)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		rw, err := s.Dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			if s.MaxAttempts > 0 && attempt >= s.MaxAttempts {
				return fmt.Errorf("%w: %s after %d attempts: %v", ErrGaveUp, s.Name, attempt, err)
			}
			delay := NextBackoffDelay(s.Backoff, attempt, s.rng)
			log.Warn().Str("codec", s.Name).Int("attempt", attempt).Dur("retry_in", delay).Err(err).Msg("transport: dial failed")
			if s.sleep(ctx, delay) != nil {
				return nil
			}
			continue
		}

		attempt = 0
		log.Info().Str("codec", s.Name).Msg("transport: connected")
		if s.OnConnect != nil {
			s.OnConnect()
		}
		err = run(ctx, rw)
		_ = rw.Close()
		if s.OnDisconnect != nil {
			s.OnDisconnect(err)
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Str("codec", s.Name).Err(err).Msg("transport: session ended")
		if s.sleep(ctx, NextBackoffDelay(s.Backoff, 1, s.rng)) != nil {
			return nil
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
