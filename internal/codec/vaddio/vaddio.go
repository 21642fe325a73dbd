// Package vaddio drives Vaddio AV bridges over their telnet console.
//
// Every response ends with a ">" prompt at the start of a line, and the
// console echoes the command first, so a frame reads
// "audio master mute get\r\nmute: on\r\nOK\r\n". The login dialog that
// precedes the first prompt is dropped by the frame buffer.
package vaddio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/device"
	"github.com/danmuck/codecctl/internal/codec/dispatch"
	"github.com/danmuck/codecctl/internal/codec/frame"
	"github.com/danmuck/codecctl/internal/codec/message"
	"github.com/danmuck/codecctl/internal/codec/session"
)

const Vendor = "vaddio"

var ErrCommandFailed = errors.New("vaddio: command failed")

var login = frame.LoginFilter{
	UserPrompts:   []string{"login:"},
	SecretPrompts: []string{"Password:"},
	Banners:       []string{"Welcome", "Last login"},
}

// Protocol is the Vaddio connection parameter set.
func Protocol() session.Protocol[message.Opaque] {
	return session.Protocol[message.Opaque]{
		Vendor: Vendor,
		NewBuffer: func() frame.Buffer {
			return frame.NewDelimiterBuffer(frame.DelimiterConfig{
				Terminator:  ">",
				AtLineStart: true,
				Filter:      login.Filter,
			})
		},
		Parse: func(f frame.Frame) (message.Opaque, error) {
			return message.Opaque(f), nil
		},
		Resolve:    dispatch.Opaque[message.Opaque](),
		LineEnding: "\r",
		ReplyKey:   replyKey,
	}
}

// replyKey queues every command for the next frame: the console answers
// each line, even an unknown one, with a prompt-terminated frame.
func replyKey(string) string {
	return dispatch.AnyFrame
}

type requester interface {
	Dispatcher() *dispatch.Dispatcher[message.Opaque]
	Request(ctx context.Context, key, token, cmd string) (message.Opaque, error)
}

// Codec is a connected AV bridge.
type Codec struct {
	*device.Device[message.Opaque]

	Audio *Audio
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
	for _, comp := range []component.Component{c.Audio} {
		if err := dev.Add(comp); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Exchange sends cmd and returns the lines of its response, failing when
// the console does not acknowledge it with OK. Responses are strictly in
// request order; every command on the connection queues for its frame,
// so the frame that completes this call is the one answering cmd.
func Exchange(ctx context.Context, conn requester, cmd string) ([]string, error) {
	reply, err := conn.Request(ctx, dispatch.AnyFrame, "", cmd)
	if err != nil {
		return nil, err
	}
	lines := reply.Lines()
	if !acknowledged(lines) {
		return lines, fmt.Errorf("%w: %s: %s", ErrCommandFailed, cmd, strings.Join(lines, " | "))
	}
	return lines, nil
}

func acknowledged(lines []string) bool {
	for _, l := range lines {
		if l == "OK" {
			return true
		}
	}
	return false
}
