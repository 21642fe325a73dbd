package fleet

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/device"
	"github.com/danmuck/codecctl/internal/codec/directory"
	"github.com/danmuck/codecctl/internal/codec/session"
	"github.com/danmuck/codecctl/internal/config"
	"github.com/danmuck/codecctl/internal/testutil/testlog"
	"github.com/danmuck/codecctl/internal/transport"
)

type recordingForwarder struct {
	events chan component.Event
}

func (f *recordingForwarder) Attach(_ context.Context, bus *component.Bus) *component.Subscription {
	return bus.Subscribe(func(ev component.Event) {
		select {
		case f.events <- ev:
		default:
		}
	})
}

func pipeDialer(remotes chan<- net.Conn) transport.Dialer {
	return transport.DialerFunc(func(context.Context) (io.ReadWriteCloser, error) {
		local, remote := net.Pipe()
		go func() { _, _ = io.Copy(io.Discard, remote) }()
		remotes <- remote
		return local, nil
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = transport.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond}
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func runFleet(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = rt.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRuntimeConnectsForwardsAndReconnects(t *testing.T) {
	testlog.Start(t)
	remotes := make(chan net.Conn, 4)
	fwd := &recordingForwarder{events: make(chan component.Event, 16)}
	rt := New(testConfig(), WithForwarder(fwd))
	if err := rt.Add(config.CodecConfig{ID: "training", Vendor: "polycom", Addr: "10.0.0.3"}, pipeDialer(remotes)); err != nil {
		t.Fatalf("add: %v", err)
	}
	runFleet(t, rt)

	remote := <-remotes
	if _, err := remote.Write([]byte("mute near on\r\n")); err != nil {
		t.Fatalf("write feedback: %v", err)
	}
	select {
	case ev := <-fwd.events:
		if ev.Device != "training" || ev.Component != "audio" || ev.Value != true {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no change event forwarded")
	}

	c, err := rt.Codec("training")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	if got := c.Snapshot()["audio"]["near_mute"]; got != true {
		t.Fatalf("unexpected snapshot value %v", got)
	}

	_ = remote.Close()
	<-remotes
	waitFor(t, "reconnect", func() bool {
		st, _ := rt.Status("training")
		return st.State == StateConnected && st.Reconnects == 1
	})
}

func TestRuntimeAddValidation(t *testing.T) {
	testlog.Start(t)
	rt := New(testConfig())
	dialer := pipeDialer(make(chan net.Conn, 1))
	if err := rt.Add(config.CodecConfig{ID: "a", Vendor: "lifesize"}, dialer); !errors.Is(err, ErrUnknownVendor) {
		t.Fatalf("expected ErrUnknownVendor, got %v", err)
	}
	if err := rt.Add(config.CodecConfig{ID: "a", Vendor: "cisco"}, dialer); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := rt.Add(config.CodecConfig{ID: " a ", Vendor: "zoom"}, dialer); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := rt.Codec("a"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := rt.Codec("b"); !errors.Is(err, ErrUnknownCodec) {
		t.Fatalf("expected ErrUnknownCodec, got %v", err)
	}
	list := rt.List()
	if len(list) != 1 || list[0].State != StateConnecting {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestRuntimeMarksCodecFailedAfterMaxDialAttempts(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.MaxDialAttempts = 2
	rt := New(cfg)
	refused := transport.DialerFunc(func(context.Context) (io.ReadWriteCloser, error) {
		return nil, errors.New("connection refused")
	})
	if err := rt.Add(config.CodecConfig{ID: "lobby", Vendor: "polycom", Addr: "10.0.0.9"}, refused); err != nil {
		t.Fatalf("add: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run should return once the only codec gives up")
	}
	st, err := rt.Status("lobby")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != StateFailed || !strings.Contains(st.LastError, "gave up") || st.Reconnects != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, err := rt.Codec("lobby"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

// syncingCodec is a minimal device that fills its directory on demand.
type syncingCodec struct {
	id     string
	bus    *component.Bus
	dir    *directory.Directory
	closed chan struct{}
	once   sync.Once
	synced chan struct{}
}

func (c *syncingCodec) ID() string { return c.id }

func (c *syncingCodec) Vendor() string { return "cisco" }

func (c *syncingCodec) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-c.closed:
	}
	return nil
}

func (c *syncingCodec) Init(context.Context) error { return nil }

func (c *syncingCodec) Send(string) error { return nil }

func (c *syncingCodec) Bus() *component.Bus { return c.bus }

func (c *syncingCodec) Directory() *directory.Directory { return c.dir }

func (c *syncingCodec) Snapshot() map[string]map[string]any { return nil }

func (c *syncingCodec) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *syncingCodec) SyncDirectory(context.Context) error {
	defer close(c.synced)
	_, err := c.dir.Merge(
		[]directory.Folder{{ID: "c_1", Name: "Sales"}},
		[]directory.Contact{{ID: "e_1", Name: "Ada", FolderID: "c_1"}, {ID: "e_2", Name: "Bo", FolderID: "c_1"}},
	)
	return err
}

func directoryGauge(t *testing.T, codec, kind string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "codecctl_directory_entries" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["codec"] == codec && labels["kind"] == kind {
				return m.GetGauge().GetValue()
			}
		}
	}
	return -1
}

func TestRuntimeSyncsDirectoryAndExportsCounts(t *testing.T) {
	testlog.Start(t)
	synced := make(chan struct{})
	factory := func(id string, _ io.ReadWriteCloser, _ session.Config) (device.Codec, error) {
		return &syncingCodec{
			id:     id,
			bus:    component.NewBus(id),
			dir:    directory.New(id),
			closed: make(chan struct{}),
			synced: synced,
		}, nil
	}
	rt := New(testConfig(), WithFactory("cisco", factory))
	remotes := make(chan net.Conn, 1)
	if err := rt.Add(config.CodecConfig{ID: "boardroom", Vendor: "cisco", Addr: "h", SyncDirectory: true}, pipeDialer(remotes)); err != nil {
		t.Fatalf("add: %v", err)
	}
	runFleet(t, rt)

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatalf("directory sync never ran")
	}
	if got := directoryGauge(t, "boardroom", "contact"); got != 2 {
		t.Fatalf("contact gauge got=%v", got)
	}
	if got := directoryGauge(t, "boardroom", "folder"); got != 1 {
		t.Fatalf("folder gauge got=%v", got)
	}
}
