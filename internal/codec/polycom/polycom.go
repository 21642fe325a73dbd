// Package polycom drives Polycom Group Series codecs over the telnet API.
//
// The API is line oriented: every response is one CRLF terminated line,
// possibly behind a "-> " prompt, and several may arrive in one read.
// Frames are opaque; components subscribe to every frame and match the
// lines they understand.
package polycom

import (
	"io"
	"strings"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/device"
	"github.com/danmuck/codecctl/internal/codec/dispatch"
	"github.com/danmuck/codecctl/internal/codec/frame"
	"github.com/danmuck/codecctl/internal/codec/message"
	"github.com/danmuck/codecctl/internal/codec/session"
)

const (
	Vendor = "polycom"
	prompt = "-> "
)

var login = frame.LoginFilter{
	SecretPrompts: []string{"Password:"},
	Banners:       []string{"Polycom", "Welcome"},
}

// Protocol is the Polycom connection parameter set.
func Protocol() session.Protocol[message.Opaque] {
	return session.Protocol[message.Opaque]{
		Vendor: Vendor,
		NewBuffer: func() frame.Buffer {
			return frame.NewDelimiterBuffer(frame.DelimiterConfig{
				Terminator: "\r\n",
				Filter:     frame.Chain(frame.StripPrompt(prompt), login.Filter),
			})
		},
		Parse: func(f frame.Frame) (message.Opaque, error) {
			return message.Opaque(strings.TrimSpace(string(f))), nil
		},
		Resolve:    dispatch.Opaque[message.Opaque](),
		LineEnding: "\r\n",
	}
}

type dispatcher = dispatch.Dispatcher[message.Opaque]

type sender interface {
	Dispatcher() *dispatcher
	Send(cmd string) error
}

// Codec is a connected Polycom codec.
type Codec struct {
	*device.Device[message.Opaque]

	Audio  *Audio
	Calls  *Calls
	System *SystemName
}

func Open(id string, rw io.ReadWriteCloser, cfg session.Config) (*Codec, error) {
	conn, err := session.New(id, Protocol(), rw, cfg)
	if err != nil {
		return nil, err
	}
	dev := device.New(conn)
	c := &Codec{Device: dev}
	if c.Audio, err = NewAudio(conn, dev.Bus()); err != nil {
		return nil, err
	}
	if c.Calls, err = NewCalls(conn.Dispatcher(), dev.Bus()); err != nil {
		return nil, err
	}
	if c.System, err = NewSystemName(conn.Dispatcher(), dev.Bus()); err != nil {
		return nil, err
	}
	for _, comp := range []component.Component{c.Audio, c.Calls, c.System} {
		if err := dev.Add(comp); err != nil {
			return nil, err
		}
	}
	return c, nil
}
