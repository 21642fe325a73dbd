package vaddio

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/dispatch"
	"github.com/danmuck/codecctl/internal/codec/message"
)

// Audio tracks master mute and volume.
type Audio struct {
	conn    requester
	handles component.Handles
	muted   *component.Value[bool]
	volume  *component.Value[int]
}

func NewAudio(conn requester, bus *component.Bus) (*Audio, error) {
	a := &Audio{
		conn:   conn,
		muted:  component.Comparable[bool](),
		volume: component.Comparable[int](),
	}
	if err := a.handles.Keep(conn.Dispatcher().RegisterAsync(dispatch.AnyFrame, a.handle)); err != nil {
		return nil, err
	}
	component.Track(a.muted, bus, a.Name(), "master_mute")
	component.Track(a.volume, bus, a.Name(), "master_volume")
	return a, nil
}

func (a *Audio) Name() string {
	return "audio"
}

func (a *Audio) InitCommands() []string {
	return []string{"audio master mute get", "audio master volume get"}
}

func (a *Audio) Muted() (bool, bool) {
	return a.muted.Get()
}

func (a *Audio) Volume() (int, bool) {
	return a.volume.Get()
}

func (a *Audio) OnMuteChange(fn func(old, next bool)) *component.Subscription {
	return a.muted.OnChange(fn)
}

func (a *Audio) OnVolumeChange(fn func(old, next int)) *component.Subscription {
	return a.volume.OnChange(fn)
}

// SetMute changes master mute and waits for the console to acknowledge.
func (a *Audio) SetMute(ctx context.Context, on bool) error {
	state := "off"
	if on {
		state = "on"
	}
	if _, err := Exchange(ctx, a.conn, "audio master mute "+state); err != nil {
		return err
	}
	a.muted.Set(on)
	return nil
}

// SetVolume changes master volume and waits for the console to acknowledge.
func (a *Audio) SetVolume(ctx context.Context, level int) error {
	if _, err := Exchange(ctx, a.conn, fmt.Sprintf("audio master volume set %d", level)); err != nil {
		return err
	}
	a.volume.Set(level)
	return nil
}

func (a *Audio) Snapshot() map[string]any {
	muted, _ := a.muted.Get()
	volume, _ := a.volume.Get()
	return map[string]any{"master_mute": muted, "master_volume": volume}
}

func (a *Audio) Close() {
	a.handles.Close()
}

// handle reads reported values ("mute: on", "volume: 10") and, once the
// console acknowledged them, the values of echoed set commands.
func (a *Audio) handle(m message.Opaque) {
	lines := m.Lines()
	ok := acknowledged(lines)
	for _, line := range lines {
		if v, found := strings.CutPrefix(line, "mute:"); found {
			if on, valid := message.ParseBool(v); valid {
				a.muted.Set(on)
			}
			continue
		}
		if v, found := strings.CutPrefix(line, "volume:"); found {
			if n, valid := message.ParseInt(v); valid {
				a.volume.Set(n)
			}
			continue
		}
		if !ok {
			continue
		}
		cmd := strings.Fields(line)
		if len(cmd) < 3 || cmd[0] != "audio" {
			continue
		}
		if cmd[1] == "master" {
			cmd = cmd[1:]
		}
		switch {
		case len(cmd) == 3 && cmd[1] == "mute":
			if on, valid := message.ParseBool(cmd[2]); valid {
				a.muted.Set(on)
			}
		case len(cmd) == 4 && cmd[1] == "volume" && cmd[2] == "set":
			if n, valid := message.ParseInt(cmd[3]); valid {
				a.volume.Set(n)
			}
		}
	}
}
