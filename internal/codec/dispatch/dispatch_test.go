package dispatch

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/codecctl/internal/testutil/testlog"
)

type testMsg struct {
	key       string
	token     string
	solicited bool
	body      string
}

func keyed() *Dispatcher[testMsg] {
	return New("test", ByKey(func(m testMsg) Delivery[testMsg] {
		return Delivery[testMsg]{Key: m.key, Token: m.token, Solicited: m.solicited}
	}))
}

func TestAsyncHandlersRunInRegistrationOrder(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		if _, err := d.RegisterAsync("zStatus/Call", func(m testMsg) {
			got = append(got, name+":"+m.body)
		}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if n := d.Dispatch(testMsg{key: "zStatus/Call", body: "x"}); n != 1 {
		t.Fatalf("expected one routed key, got %d", n)
	}
	if want := []string{"a:x", "b:x", "c:x"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestSyncWaiterFulfilledBeforeAsync(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	var order []string
	p, err := d.RegisterSync("zConfiguration/Call", "")
	if err != nil {
		t.Fatalf("register sync: %v", err)
	}
	if _, err := d.RegisterAsync("zConfiguration/Call", func(testMsg) {
		select {
		case r := <-p.ch:
			order = append(order, "sync:"+r.msg.body)
			p.ch <- r
		default:
			order = append(order, "sync-missing")
		}
		order = append(order, "async")
	}); err != nil {
		t.Fatalf("register async: %v", err)
	}

	d.Dispatch(testMsg{key: "zConfiguration/Call", solicited: true, body: "reply"})
	if want := []string{"sync:reply", "async"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("got=%v want=%v", order, want)
	}
	msg, err := p.WaitTimeout(time.Second)
	if err != nil || msg.body != "reply" {
		t.Fatalf("wait: %+v err=%v", msg, err)
	}
	if d.Outstanding("zConfiguration/Call") != 0 {
		t.Fatalf("waiter should be consumed")
	}
}

func TestUnsolicitedDeliveryLeavesWaiterQueued(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	p, _ := d.RegisterSync("zConfiguration/Call", "")
	if n := d.Dispatch(testMsg{key: "zConfiguration/Call", body: "feedback"}); n != 0 {
		t.Fatalf("unsolicited message with no handlers should be unrouted, got %d", n)
	}
	if d.Outstanding("zConfiguration/Call") != 1 {
		t.Fatalf("waiter should still be queued")
	}
	d.Dispatch(testMsg{key: "zConfiguration/Call", solicited: true, body: "reply"})
	if msg, err := p.WaitTimeout(time.Second); err != nil || msg.body != "reply" {
		t.Fatalf("wait: %+v err=%v", msg, err)
	}
}

func TestSyncWaitersAreFIFO(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	first, _ := d.RegisterSync("k", "")
	second, _ := d.RegisterSync("k", "")
	d.Dispatch(testMsg{key: "k", solicited: true, body: "1"})
	d.Dispatch(testMsg{key: "k", solicited: true, body: "2"})
	if m, _ := first.WaitTimeout(time.Second); m.body != "1" {
		t.Fatalf("first waiter got %q", m.body)
	}
	if m, _ := second.WaitTimeout(time.Second); m.body != "2" {
		t.Fatalf("second waiter got %q", m.body)
	}
}

func TestTokenSelectsWaiter(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	a, _ := d.RegisterSync("k", "tok-a")
	b, _ := d.RegisterSync("k", "tok-b")
	d.Dispatch(testMsg{key: "k", token: "tok-b", solicited: true, body: "for-b"})
	if m, err := b.WaitTimeout(time.Second); err != nil || m.body != "for-b" {
		t.Fatalf("token b: %+v err=%v", m, err)
	}
	if d.Outstanding("k") != 1 {
		t.Fatalf("waiter a should remain queued")
	}
	d.Dispatch(testMsg{key: "k", token: "other", solicited: true})
	if d.Outstanding("k") != 1 {
		t.Fatalf("mismatched token must not fulfil waiter a")
	}
	d.Dispatch(testMsg{key: "k", token: "tok-a", solicited: true, body: "for-a"})
	if m, err := a.WaitTimeout(time.Second); err != nil || m.body != "for-a" {
		t.Fatalf("token a: %+v err=%v", m, err)
	}
}

func TestWaitTimeoutRemovesWaiter(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	var late []string
	d.RegisterAsync("k", func(m testMsg) { late = append(late, m.body) })
	p, _ := d.RegisterSync("k", "")

	_, err := p.WaitTimeout(20 * time.Millisecond)
	if !errors.Is(err, ErrReplyTimeout) {
		t.Fatalf("expected ErrReplyTimeout, got %v", err)
	}
	if d.Outstanding("k") != 0 {
		t.Fatalf("timed out waiter should leave the queue")
	}
	d.Dispatch(testMsg{key: "k", solicited: true, body: "late"})
	if !reflect.DeepEqual(late, []string{"late"}) {
		t.Fatalf("late reply should reach feedback handlers: %v", late)
	}
}

func TestWaitCancelledContext(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	p, _ := d.RegisterSync("k", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	calls := 0
	reg, _ := d.RegisterAsync("k", func(testMsg) { calls++ })
	d.Dispatch(testMsg{key: "k"})
	d.Unregister(reg)
	reg.Cancel()
	if n := d.Dispatch(testMsg{key: "k"}); n != 0 {
		t.Fatalf("expected unrouted after unregister, got %d", n)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
	if len(d.Keys()) != 0 {
		t.Fatalf("empty route should be dropped: %v", d.Keys())
	}
}

func TestUnroutedMessageIsDropped(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	d.RegisterAsync("zStatus/Call", func(testMsg) { t.Fatalf("unexpected delivery") })
	if n := d.Dispatch(testMsg{key: "zStatus/Unknown"}); n != 0 {
		t.Fatalf("expected zero deliveries, got %d", n)
	}
}

func TestPanickingHandlerIsContained(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	after := false
	d.RegisterAsync("k", func(testMsg) { panic("boom") })
	d.RegisterAsync("k", func(testMsg) { after = true })
	d.Dispatch(testMsg{key: "k"})
	if !after {
		t.Fatalf("handler after panicking one should still run")
	}
}

func TestCloseFailsWaiters(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	p, _ := d.RegisterSync("k", "")
	d.Close()
	if _, err := p.WaitTimeout(time.Second); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
	late, _ := d.RegisterSync("k", "")
	if _, err := late.WaitTimeout(time.Second); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed after close, got %v", err)
	}
}

func TestRegisterRejectsBlankKey(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	if _, err := d.RegisterAsync("  ", func(testMsg) {}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := d.RegisterSync("", ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestConcurrentRegisterAndDispatch(t *testing.T) {
	testlog.Start(t)
	d := keyed()
	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg, _ := d.RegisterAsync("k", func(testMsg) {
				mu.Lock()
				count++
				mu.Unlock()
			})
			d.Dispatch(testMsg{key: "k"})
			reg.Cancel()
		}()
		go func() {
			defer wg.Done()
			p, _ := d.RegisterSync("k", "")
			d.Dispatch(testMsg{key: "k", solicited: true})
			p.WaitTimeout(time.Second)
		}()
	}
	wg.Wait()
	if d.Outstanding("k") != 0 {
		t.Fatalf("waiters leaked: %d", d.Outstanding("k"))
	}
	if count == 0 {
		t.Fatalf("expected some async deliveries")
	}
}

type pathMsg struct {
	paths []string
	scope string
	token string
}

func prefixed() *Dispatcher[pathMsg] {
	return New("paths", ByPrefix(PathSource[pathMsg]{
		Paths: func(m pathMsg) []string { return m.paths },
		Scope: func(m pathMsg, key string) pathMsg { m.scope = key; return m },
		Token: func(m pathMsg) string { return m.token },
	}))
}

func TestPrefixRoutesToLongestRegisteredKey(t *testing.T) {
	testlog.Start(t)
	d := prefixed()
	var got []string
	record := func(m pathMsg) { got = append(got, m.scope) }
	d.RegisterAsync("Status", record)
	d.RegisterAsync("Status/Video", record)
	d.RegisterAsync("Status/Video/Layout", record)

	n := d.Dispatch(pathMsg{paths: []string{
		"Status/Video/Layout/PresentationView",
		"Status/Video/Input/Source/ConnectorId",
		"Status/Video/Input/Source/FormatStatus",
		"Status/Audio/Volume",
	}})
	if n != 3 {
		t.Fatalf("expected three keys, got %d", n)
	}
	if want := []string{"Status/Video/Layout", "Status/Video", "Status"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestPrefixRequiresSegmentBoundary(t *testing.T) {
	testlog.Start(t)
	d := prefixed()
	d.RegisterAsync("Status/Video", func(pathMsg) { t.Fatalf("Status/VideoMode is not under Status/Video") })
	if n := d.Dispatch(pathMsg{paths: []string{"Status/VideoMode/Active"}}); n != 0 {
		t.Fatalf("expected unrouted, got %d", n)
	}
}

func TestPrefixReplyUsesToken(t *testing.T) {
	testlog.Start(t)
	d := prefixed()
	p, _ := d.RegisterSync("CommandResponse/CameraPresetListResult", "abc")
	d.Dispatch(pathMsg{paths: []string{"CommandResponse/CameraPresetListResult/Preset/Name"}, token: "zzz"})
	if d.Outstanding("CommandResponse/CameraPresetListResult") != 1 {
		t.Fatalf("foreign token must not fulfil")
	}
	d.Dispatch(pathMsg{paths: []string{"CommandResponse/CameraPresetListResult/Preset/Name"}, token: "abc"})
	m, err := p.WaitTimeout(time.Second)
	if err != nil || m.scope != "CommandResponse/CameraPresetListResult" {
		t.Fatalf("wait: %+v err=%v", m, err)
	}
}

func TestOpaqueRoutesEverything(t *testing.T) {
	testlog.Start(t)
	d := New("opaque", Opaque[string]())
	var got []string
	d.RegisterAsync(AnyFrame, func(s string) { got = append(got, s) })
	d.Dispatch("mute: on")
	d.Dispatch("volume: 10")
	if !reflect.DeepEqual(got, []string{"mute: on", "volume: 10"}) {
		t.Fatalf("got=%v", got)
	}
}
