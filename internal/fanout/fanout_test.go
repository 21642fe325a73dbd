package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/testutil/testlog"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return f.err
}

type fakeStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]any
	ttls   map[string]time.Duration
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: map[string]map[string]any{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	h := f.hashes[key]
	if h == nil {
		h = map[string]any{}
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1]
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeStore) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func TestForwardPublishesAndRecords(t *testing.T) {
	testlog.Start(t)
	pub := &fakePublisher{}
	store := newFakeStore()
	sink := NewSink(Config{StateTTL: time.Hour}, pub, store)

	bus := component.NewBus("room.1")
	sub := sink.Attach(context.Background(), bus)
	bus.Publish(component.Event{Component: "layout", Field: "presentation_view", Value: "Maximized"})
	sub.Cancel()
	bus.Publish(component.Event{Component: "layout", Field: "presentation_view", Value: "Minimized"})
	sink.Close()

	if len(pub.msgs) != 2 {
		t.Fatalf("expected two publishes, got %d", len(pub.msgs))
	}
	if pub.msgs[0].subject != "codecctl.room_1.layout" || pub.msgs[1].subject != "codecctl.all" {
		t.Fatalf("unexpected subjects %q %q", pub.msgs[0].subject, pub.msgs[1].subject)
	}
	var env Envelope
	if err := json.Unmarshal(pub.msgs[0].data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.ID == "" || env.Device != "room.1" || env.Field != "presentation_view" || env.Value != "Maximized" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	h := store.hashes[StateKey("room.1")]
	if h["layout.presentation_view"] != `"Maximized"` {
		t.Fatalf("unexpected state hash %v", h)
	}
	if store.ttls[StateKey("room.1")] != time.Hour {
		t.Fatalf("expected ttl to be refreshed")
	}
}

func TestForwardToleratesBrokerFailures(t *testing.T) {
	testlog.Start(t)
	pub := &fakePublisher{err: errors.New("nats down")}
	store := newFakeStore()
	store.err = errors.New("redis down")
	sink := NewSink(Config{}, pub, store)
	defer sink.Close()
	sink.Forward(context.Background(), component.Event{Device: "c", Component: "audio", Field: "mute", Value: true})
	if len(pub.msgs) != 2 {
		t.Fatalf("publish should be attempted on both subjects")
	}
	if len(store.ttls) != 0 {
		t.Fatalf("expire must not run after a failed hset")
	}
}

func TestNilSidesAreSkipped(t *testing.T) {
	testlog.Start(t)
	sink := NewSink(Config{SubjectPrefix: "av"}, nil, nil)
	defer sink.Close()
	sink.Forward(context.Background(), component.Event{Device: "c", Component: "audio", Field: "mute", Value: true})
	if got := sink.Subject("a b", ""); got != "av.a_b._" {
		t.Fatalf("unexpected subject %q", got)
	}
}

// stalledStore never answers: HSet returns only when its context ends or
// release is closed.
type stalledStore struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *stalledStore) HSet(ctx context.Context, _ string, _ ...interface{}) *redis.IntCmd {
	f.calls.Add(1)
	select {
	case f.entered <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return redis.NewIntResult(0, ctx.Err())
	case <-f.release:
		return redis.NewIntResult(1, nil)
	}
}

func (f *stalledStore) Expire(context.Context, string, time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func TestStalledStoreDoesNotBlockPublisher(t *testing.T) {
	testlog.Start(t)
	store := &stalledStore{entered: make(chan struct{}, 1), release: make(chan struct{})}
	sink := NewSink(Config{StoreTimeout: 50 * time.Millisecond}, nil, store)
	defer sink.Close()

	bus := component.NewBus("boardroom")
	sink.Attach(context.Background(), bus)
	start := time.Now()
	bus.Publish(component.Event{Component: "layout", Field: "presentation_view", Value: "Maximized"})
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Fatalf("publish waited on the store for %s", elapsed)
	}
	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatalf("event never reached the store")
	}
	bus.Publish(component.Event{Component: "layout", Field: "presentation_view", Value: "Minimized"})
	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatalf("store timeout did not free the sink for the next event")
	}
}

func TestFullQueueDropsEvents(t *testing.T) {
	testlog.Start(t)
	store := &stalledStore{entered: make(chan struct{}, 1), release: make(chan struct{})}
	sink := NewSink(Config{QueueSize: 1, StoreTimeout: time.Minute}, nil, store)

	bus := component.NewBus("boardroom")
	sink.Attach(context.Background(), bus)
	bus.Publish(component.Event{Component: "audio", Field: "mute", Value: true})
	select {
	case <-store.entered:
	case <-time.After(time.Second):
		t.Fatalf("first event never reached the store")
	}
	bus.Publish(component.Event{Component: "audio", Field: "mute", Value: false})
	bus.Publish(component.Event{Component: "audio", Field: "volume", Value: 4})
	if got := sink.Dropped(); got != 1 {
		t.Fatalf("expected one dropped event, got %d", got)
	}

	close(store.release)
	sink.Close()
	if got := store.calls.Load(); got != 2 {
		t.Fatalf("expected the queued event to be flushed on close, store calls=%d", got)
	}
}
