package component

import (
	"reflect"
	"testing"

	"github.com/danmuck/codecctl/internal/codec/dispatch"
	"github.com/danmuck/codecctl/internal/testutil/testlog"
)

type diagnostic struct {
	Level       string
	Description string
	References  []string
}

func TestValueNotifiesOnlyOnChange(t *testing.T) {
	testlog.Start(t)
	v := Comparable[string]()
	var got []string
	v.OnChange(func(old, next string) { got = append(got, old+"->"+next) })

	for _, s := range []string{"Default", "Default", "Maximized", "Minimized", "Minimized"} {
		v.Set(s)
	}
	want := []string{"->Default", "Default->Maximized", "Maximized->Minimized"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	if cur, ok := v.Get(); !ok || cur != "Minimized" {
		t.Fatalf("unexpected value %q ok=%v", cur, ok)
	}
}

func TestStructuredValueComparesByContent(t *testing.T) {
	testlog.Start(t)
	v := NewValue[[]diagnostic](nil)
	calls := 0
	v.OnChange(func(_, _ []diagnostic) { calls++ })

	first := []diagnostic{{Level: "Warning", Description: "fan", References: []string{"a"}}}
	same := []diagnostic{{Level: "Warning", Description: "fan", References: []string{"a"}}}
	if !v.Set(first) {
		t.Fatalf("first set should change")
	}
	if v.Set(same) {
		t.Fatalf("equal content should not change")
	}
	if !v.Set(nil) {
		t.Fatalf("clearing diagnostics should change")
	}
	if calls != 2 {
		t.Fatalf("expected two notifications, got %d", calls)
	}
}

func TestZeroValueFirstSetCounts(t *testing.T) {
	testlog.Start(t)
	v := Comparable[bool]()
	if _, ok := v.Get(); ok {
		t.Fatalf("unset value should report ok=false")
	}
	if !v.Set(false) {
		t.Fatalf("first set of zero value should be a change")
	}
	if v.Set(false) {
		t.Fatalf("repeat should not be a change")
	}
}

func TestTrackPublishesOnBus(t *testing.T) {
	testlog.Start(t)
	bus := NewBus("room-1")
	var events []Event
	sub := bus.Subscribe(func(ev Event) { events = append(events, ev) })
	v := Comparable[int]()
	Track(v, bus, "audio", "volume")

	v.Set(10)
	v.Set(10)
	v.Set(12)
	sub.Cancel()
	v.Set(14)

	if len(events) != 2 {
		t.Fatalf("expected two events, got %d", len(events))
	}
	ev := events[1]
	if ev.Device != "room-1" || ev.Component != "audio" || ev.Field != "volume" || ev.Value != 12 || ev.At.IsZero() {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestPanickingListenerDoesNotStopOthers(t *testing.T) {
	testlog.Start(t)
	v := Comparable[int]()
	reached := false
	v.OnChange(func(_, _ int) { panic("listener") })
	v.OnChange(func(_, _ int) { reached = true })
	v.Set(1)
	if !reached {
		t.Fatalf("second listener should run")
	}
}

func TestHandlesCloseCancelsRegistrations(t *testing.T) {
	testlog.Start(t)
	d := dispatch.New("handles", dispatch.Opaque[string]())
	var h Handles
	calls := 0
	if err := h.Keep(d.RegisterAsync(dispatch.AnyFrame, func(string) { calls++ })); err != nil {
		t.Fatalf("keep: %v", err)
	}
	d.Dispatch("one")
	h.Close()
	d.Dispatch("two")
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}
