// Package zoom drives Zoom Rooms through the ZRC command API in JSON mode.
//
// Every response is a JSON record naming its payload in "topKey" and its
// command family in "type"; routing is by the pair. Only records flagged
// "Sync" answer a request, and replies arrive in request order, so reply
// correlation is FIFO per key.
package zoom

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

const (
	Vendor = "zoom"

	formatJSON = "format json"
)

var ErrCommandFailed = errors.New("zoom: command failed")

// Protocol is the Zoom Room connection parameter set.
func Protocol() session.Protocol[*message.Record] {
	return session.Protocol[*message.Record]{
		Vendor: Vendor,
		NewBuffer: func() frame.Buffer {
			return frame.NewRecordBuffer(dropText)
		},
		Parse: message.ParseRecord,
		Resolve: dispatch.ByKey(func(r *message.Record) dispatch.Delivery[*message.Record] {
			return dispatch.Delivery[*message.Record]{Key: r.Key(), Solicited: r.Sync}
		}),
		LineEnding: "\r\n",
		ReplyKey:   replyKey,
	}
}

// replyKey predicts the routing key of the Sync record answering cmd.
// zStatus and zConfiguration answer under their first path element;
// zCommand answers under "<Noun><Verb>Result". Anything else, such as
// "format json", gets no record.
func replyKey(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) < 2 {
		return ""
	}
	word := func(i int) string {
		return strings.TrimSuffix(fields[i], ":")
	}
	switch fields[0] {
	case message.TypeStatus, message.TypeConfiguration:
		return message.KeyFor(fields[0], word(1))
	case message.TypeCommand:
		if len(fields) < 3 {
			return message.KeyFor(fields[0], word(1)+"Result")
		}
		return message.KeyFor(fields[0], word(1)+word(2)+"Result")
	default:
		return ""
	}
}

// dropText discards everything that is not a JSON record: command echoes,
// "** end" markers and the login banner.
func dropText(string) (string, bool) {
	return "", false
}

type dispatcher = dispatch.Dispatcher[*message.Record]

type requester interface {
	Dispatcher() *dispatcher
	Request(ctx context.Context, key, token, cmd string) (*message.Record, error)
}

// Codec is a connected Zoom Room.
type Codec struct {
	*device.Device[*message.Record]

	Call      *Call
	System    *SystemInfo
	Phonebook *Phonebook
}

func Open(id string, rw io.ReadWriteCloser, cfg session.Config) (*Codec, error) {
	conn, err := session.New(id, Protocol(), rw, cfg)
	if err != nil {
		return nil, err
	}
	dev := device.New(conn, formatJSON)
	c := &Codec{Device: dev}
	if c.Call, err = NewCall(conn, dev.Bus()); err != nil {
		return nil, err
	}
	if c.System, err = NewSystemInfo(conn.Dispatcher(), dev.Bus()); err != nil {
		return nil, err
	}
	if c.Phonebook, err = NewPhonebook(conn, dev.Directory()); err != nil {
		return nil, err
	}
	for _, comp := range []component.Component{c.Call, c.System, c.Phonebook} {
		if err := dev.Add(comp); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SyncDirectory pulls the phonebook into the device directory.
func (c *Codec) SyncDirectory(ctx context.Context) error {
	return c.Phonebook.SyncDirectory(ctx)
}

// checkStatus maps a record whose Status.state is not OK to ErrCommandFailed.
func checkStatus(r *message.Record) error {
	if r.Status == "" || r.Status == "OK" {
		return nil
	}
	return fmt.Errorf("%w: %s %s: %s", ErrCommandFailed, r.Key(), r.Status, r.Message)
}
