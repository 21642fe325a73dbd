// Package fanout forwards codec change events off the process: every
// event is published on NATS and folded into a per-codec Redis hash
// holding the last known value of each field.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/observability"
)

const (
	DefaultSubjectPrefix = "codecctl"
	DefaultStateTTL      = 24 * time.Hour
	DefaultQueueSize     = 1024
	DefaultStoreTimeout  = 2 * time.Second
	allSubject           = "all"
)

// Publisher is the NATS side; *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// StateStore is the Redis side; *redis.Client satisfies it.
type StateStore interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Envelope is the published form of a component.Event.
type Envelope struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	Component string    `json:"component"`
	Field     string    `json:"field"`
	Value     any       `json:"value"`
	At        time.Time `json:"at"`
}

type Config struct {
	SubjectPrefix string
	StateTTL      time.Duration
	// QueueSize bounds the events waiting for the brokers. Events raised
	// while it is full are dropped.
	QueueSize int
	// StoreTimeout bounds each Redis round trip.
	StoreTimeout time.Duration
}

// Sink forwards events. Either side may be nil. Attached buses only
// enqueue; one goroutine owned by the sink talks to the brokers.
type Sink struct {
	cfg   Config
	pub   Publisher
	store StateStore

	queue   chan component.Event
	dropped atomic.Uint64
	stop    core.Fuse
	wg      sync.WaitGroup
	once    sync.Once
}

func NewSink(cfg Config, pub Publisher, store StateStore) *Sink {
	if strings.TrimSpace(cfg.SubjectPrefix) == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	s := &Sink{
		cfg:   cfg,
		pub:   pub,
		store: store,
		queue: make(chan component.Event, cfg.QueueSize),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// Subject is where events of device/component are published.
func (s *Sink) Subject(device, comp string) string {
	return s.cfg.SubjectPrefix + "." + subjectToken(device) + "." + subjectToken(comp)
}

// StateKey is the Redis hash holding the last known state of device.
func StateKey(device string) string {
	return "codecctl:state:" + device
}

// Forward publishes ev and records its value on the calling goroutine.
// Failures are logged.
func (s *Sink) Forward(ctx context.Context, ev component.Event) {
	env := Envelope{
		ID:        uuid.NewString(),
		Device:    ev.Device,
		Component: ev.Component,
		Field:     ev.Field,
		Value:     ev.Value,
		At:        ev.At,
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Warn().Str("codec", ev.Device).Str("component", ev.Component).Err(err).Msg("fanout: encode event")
		return
	}
	if s.pub != nil {
		for _, subject := range []string{s.Subject(ev.Device, ev.Component), s.cfg.SubjectPrefix + "." + allSubject} {
			if err := s.pub.Publish(subject, data); err != nil {
				log.Warn().Str("subject", subject).Err(err).Msg("fanout: publish failed")
			}
		}
	}
	if s.store != nil {
		if err := s.record(ctx, env); err != nil {
			log.Warn().Str("codec", ev.Device).Err(err).Msg("fanout: state store failed")
		}
	}
}

func (s *Sink) record(ctx context.Context, env Envelope) error {
	value, err := json.Marshal(env.Value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	key := StateKey(env.Device)
	field := env.Component + "." + env.Field
	if err := s.store.HSet(ctx, key, field, string(value), "ts", env.At.Unix()).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return s.store.Expire(ctx, key, s.cfg.StateTTL).Err()
}

// Attach queues every event of bus for forwarding until the subscription
// is cancelled or ctx ends. The bus listener never waits on a broker.
func (s *Sink) Attach(ctx context.Context, bus *component.Bus) *component.Subscription {
	return bus.Subscribe(func(ev component.Event) {
		if ctx.Err() != nil {
			return
		}
		s.enqueue(ev)
	})
}

func (s *Sink) enqueue(ev component.Event) {
	if s.stop.IsBroken() {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
		observability.RecordFanoutDrop(ev.Device)
		log.Warn().Str("codec", ev.Device).Str("component", ev.Component).Str("field", ev.Field).Msg("fanout: queue full, event dropped")
	}
}

// Dropped counts events lost to a full queue.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close forwards what is already queued and stops the sink.
func (s *Sink) Close() {
	s.once.Do(func() {
		s.stop.Break()
		s.wg.Wait()
	})
}

func (s *Sink) drain() {
	defer s.wg.Done()
	ctx := context.Background()
	for {
		select {
		case ev := <-s.queue:
			s.Forward(ctx, ev)
		case <-s.stop.Watch():
			for {
				select {
				case ev := <-s.queue:
					s.Forward(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func subjectToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>', '\t':
			return '_'
		}
		return r
	}, v)
}
