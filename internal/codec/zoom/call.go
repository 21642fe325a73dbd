package zoom

import (
	"context"
	"fmt"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/message"
)

var (
	CallStatusKey = message.KeyFor(message.TypeStatus, "Call")
	CallConfigKey = message.KeyFor(message.TypeConfiguration, "Call")
)

// Call states reported in zStatus Call Status.
const (
	CallNotInMeeting = "NOT_IN_MEETING"
	CallConnecting   = "CONNECTING_MEETING"
	CallInMeeting    = "IN_MEETING"
	CallLoggedOut    = "LOGGED_OUT"
)

// Call tracks meeting state, layout style and microphone mute.
type Call struct {
	conn    requester
	handles component.Handles
	status  *component.Value[string]
	layout  *component.Value[string]
	muted   *component.Value[bool]
}

func NewCall(conn requester, bus *component.Bus) (*Call, error) {
	c := &Call{
		conn:   conn,
		status: component.Comparable[string](),
		layout: component.Comparable[string](),
		muted:  component.Comparable[bool](),
	}
	d := conn.Dispatcher()
	if err := c.handles.Keep(d.RegisterAsync(CallStatusKey, c.handleStatus)); err != nil {
		return nil, err
	}
	if err := c.handles.Keep(d.RegisterAsync(CallConfigKey, c.handleConfig)); err != nil {
		c.Close()
		return nil, err
	}
	component.Track(c.status, bus, c.Name(), "status")
	component.Track(c.layout, bus, c.Name(), "layout_style")
	component.Track(c.muted, bus, c.Name(), "microphone_mute")
	return c, nil
}

func (c *Call) Name() string {
	return "call"
}

func (c *Call) InitCommands() []string {
	return []string{
		"zStatus Call Status",
		"zConfiguration Call Layout Style",
		"zConfiguration Call Microphone Mute",
	}
}

func (c *Call) Status() (string, bool) {
	return c.status.Get()
}

func (c *Call) LayoutStyle() (string, bool) {
	return c.layout.Get()
}

func (c *Call) Muted() (bool, bool) {
	return c.muted.Get()
}

func (c *Call) OnStatusChange(fn func(old, next string)) *component.Subscription {
	return c.status.OnChange(fn)
}

func (c *Call) OnMuteChange(fn func(old, next bool)) *component.Subscription {
	return c.muted.OnChange(fn)
}

// SetMute asks the room to change microphone mute and waits for the
// configuration reply.
func (c *Call) SetMute(ctx context.Context, mute bool) error {
	state := "off"
	if mute {
		state = "on"
	}
	rec, err := c.conn.Request(ctx, CallConfigKey, "", fmt.Sprintf("zConfiguration Call Microphone Mute: %s", state))
	if err != nil {
		return err
	}
	return checkStatus(rec)
}

func (c *Call) Snapshot() map[string]any {
	status, _ := c.status.Get()
	layout, _ := c.layout.Get()
	muted, _ := c.muted.Get()
	return map[string]any{
		"status":          status,
		"layout_style":    layout,
		"microphone_mute": muted,
	}
}

func (c *Call) Close() {
	c.handles.Close()
}

func (c *Call) handleStatus(r *message.Record) {
	if s, ok := r.String("Status"); ok && s != "" {
		c.status.Set(s)
	}
}

func (c *Call) handleConfig(r *message.Record) {
	if checkStatus(r) != nil {
		return
	}
	if style, ok := r.String("Layout.Style"); ok && style != "" {
		c.layout.Set(style)
	}
	if mute, ok := r.Bool("Microphone.Mute"); ok {
		c.muted.Set(mute)
	}
}
