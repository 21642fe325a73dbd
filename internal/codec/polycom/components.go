package polycom

import (
	"strings"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/dispatch"
	"github.com/danmuck/codecctl/internal/codec/message"
)

// Audio tracks near-end microphone mute.
type Audio struct {
	conn    sender
	handles component.Handles
	muted   *component.Value[bool]
}

func NewAudio(conn sender, bus *component.Bus) (*Audio, error) {
	a := &Audio{conn: conn, muted: component.Comparable[bool]()}
	if err := a.handles.Keep(conn.Dispatcher().RegisterAsync(dispatch.AnyFrame, a.handle)); err != nil {
		return nil, err
	}
	component.Track(a.muted, bus, a.Name(), "near_mute")
	return a, nil
}

func (a *Audio) Name() string {
	return "audio"
}

func (a *Audio) InitCommands() []string {
	return []string{"mute register", "mute near get"}
}

func (a *Audio) Muted() (bool, bool) {
	return a.muted.Get()
}

func (a *Audio) OnChange(fn func(old, next bool)) *component.Subscription {
	return a.muted.OnChange(fn)
}

// SetMute sends the mute command; the codec confirms through feedback.
func (a *Audio) SetMute(on bool) error {
	if on {
		return a.conn.Send("mute near on")
	}
	return a.conn.Send("mute near off")
}

func (a *Audio) Snapshot() map[string]any {
	v, _ := a.muted.Get()
	return map[string]any{"near_mute": v}
}

func (a *Audio) Close() {
	a.handles.Close()
}

func (a *Audio) handle(m message.Opaque) {
	for _, line := range m.Lines() {
		rest, ok := strings.CutPrefix(line, "mute near ")
		if !ok {
			continue
		}
		if on, ok := message.ParseBool(rest); ok {
			a.muted.Set(on)
		}
	}
}

// Call is one entry of the call list, from "notification:callstatus" lines.
type Call struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	FarName   string `json:"far_name"`
	FarNumber string `json:"far_number"`
	State     string `json:"state"`
	Speed     string `json:"speed"`
	Type      string `json:"type"`
}

// Calls tracks active calls. A "disconnected" state drops the call.
type Calls struct {
	handles component.Handles
	calls   *component.Value[[]Call]
}

func NewCalls(d *dispatcher, bus *component.Bus) (*Calls, error) {
	c := &Calls{calls: component.NewValue[[]Call](nil)}
	if err := c.handles.Keep(d.RegisterAsync(dispatch.AnyFrame, c.handle)); err != nil {
		return nil, err
	}
	component.Track(c.calls, bus, c.Name(), "active")
	return c, nil
}

func (c *Calls) Name() string {
	return "calls"
}

func (c *Calls) InitCommands() []string {
	return []string{"notify callstatus", "callinfo all"}
}

func (c *Calls) Active() []Call {
	v, _ := c.calls.Get()
	return append([]Call(nil), v...)
}

func (c *Calls) OnChange(fn func(old, next []Call)) *component.Subscription {
	return c.calls.OnChange(fn)
}

func (c *Calls) Snapshot() map[string]any {
	return map[string]any{"active": c.Active()}
}

func (c *Calls) Close() {
	c.handles.Close()
}

func (c *Calls) handle(m message.Opaque) {
	for _, line := range m.Lines() {
		call, ok := parseCallStatus(line)
		if !ok {
			continue
		}
		cur := c.Active()
		next := make([]Call, 0, len(cur)+1)
		replaced := false
		for _, existing := range cur {
			if existing.ID != call.ID {
				next = append(next, existing)
				continue
			}
			replaced = true
			if call.State != "disconnected" {
				next = append(next, call)
			}
		}
		if !replaced && call.State != "disconnected" {
			next = append(next, call)
		}
		c.calls.Set(next)
	}
}

// parseCallStatus reads
// notification:callstatus:<dir>:<id>:<far name>:<far number>:<state>:<speed>:<x>:<type>
func parseCallStatus(line string) (Call, bool) {
	rest, ok := strings.CutPrefix(line, "notification:callstatus:")
	if !ok {
		return Call{}, false
	}
	f := strings.Split(rest, ":")
	if len(f) < 5 {
		return Call{}, false
	}
	call := Call{
		Direction: f[0],
		ID:        f[1],
		FarName:   f[2],
		FarNumber: f[3],
		State:     strings.ToLower(f[4]),
	}
	if len(f) > 5 {
		call.Speed = f[5]
	}
	if len(f) > 7 {
		call.Type = f[7]
	}
	return call, true
}

// SystemName tracks the configured system name.
type SystemName struct {
	handles component.Handles
	name    *component.Value[string]
}

func NewSystemName(d *dispatcher, bus *component.Bus) (*SystemName, error) {
	s := &SystemName{name: component.Comparable[string]()}
	if err := s.handles.Keep(d.RegisterAsync(dispatch.AnyFrame, s.handle)); err != nil {
		return nil, err
	}
	component.Track(s.name, bus, s.Name(), "system_name")
	return s, nil
}

func (s *SystemName) Name() string {
	return "system"
}

func (s *SystemName) InitCommands() []string {
	return []string{"systemname get"}
}

func (s *SystemName) SystemName() (string, bool) {
	return s.name.Get()
}

func (s *SystemName) Snapshot() map[string]any {
	v, _ := s.name.Get()
	return map[string]any{"system_name": v}
}

func (s *SystemName) Close() {
	s.handles.Close()
}

func (s *SystemName) handle(m message.Opaque) {
	for _, line := range m.Lines() {
		rest, ok := strings.CutPrefix(line, "systemname ")
		if !ok || rest == "get" {
			continue
		}
		s.name.Set(strings.Trim(rest, `"`))
	}
}
