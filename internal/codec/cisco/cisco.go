// Package cisco drives Cisco xAPI codecs in XML output mode.
//
// Frames are whole <XmlDoc> documents. Routing is by element path: a
// component registered on "Status/Video" receives every update nested under
// it unless a longer registered path claims it. Requests carry a
// resultId token that the codec echoes on the reply document.
package cisco

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
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	Vendor   = "cisco"
	rootName = "XmlDoc"

	// outputModeXML switches the session to XML documents.
	outputModeXML = "xPreferences outputmode xml"
)

// Protocol is the Cisco connection parameter set.
func Protocol() session.Protocol[*message.Document] {
	return session.Protocol[*message.Document]{
		Vendor:     Vendor,
		NewBuffer:  func() frame.Buffer { return frame.NewXMLBuffer(rootName) },
		Parse:      message.ParseDocument,
		Resolve:    dispatch.ByPrefix(pathSource),
		LineEnding: "\r\n",
	}
}

var pathSource = dispatch.PathSource[*message.Document]{
	Paths: func(d *message.Document) []string {
		out := make([]string, 0, len(d.Leaves))
		for _, l := range d.Leaves {
			out = append(out, l.Path)
		}
		return out
	},
	Scope: func(d *message.Document, key string) *message.Document {
		return d.Scope(key)
	},
	Token: func(d *message.Document) string {
		return d.ResultID
	},
}

var ErrCommandFailed = errors.New("cisco: command failed")

type dispatcher = dispatch.Dispatcher[*message.Document]

// requester is the part of a connection that issues correlated requests.
type requester interface {
	Dispatcher() *dispatcher
	Request(ctx context.Context, key, token, cmd string) (*message.Document, error)
}

// Codec is a connected Cisco codec with its standard components.
type Codec struct {
	*device.Device[*message.Document]

	Layout    *Layout
	SIP       *SIPRegistration
	Video     *VideoInput
	Presets   *CameraPresets
	System    *SystemInfo
	Phonebook *Phonebook
}

// Open builds a Codec on rw. Call Run to start reading and Init to prime
// component state.
func Open(id string, rw io.ReadWriteCloser, cfg session.Config) (*Codec, error) {
	conn, err := session.New(id, Protocol(), rw, cfg)
	if err != nil {
		return nil, err
	}
	dev := device.New(conn, outputModeXML)
	disp := conn.Dispatcher()
	bus := dev.Bus()
	c := &Codec{Device: dev}

	if c.Layout, err = NewLayout(disp, bus); err != nil {
		return nil, err
	}
	if c.SIP, err = NewSIPRegistration(disp, bus); err != nil {
		return nil, err
	}
	if c.Video, err = NewVideoInput(disp, bus); err != nil {
		return nil, err
	}
	if c.Presets, err = NewCameraPresets(conn, bus); err != nil {
		return nil, err
	}
	if c.System, err = NewSystemInfo(disp, bus); err != nil {
		return nil, err
	}
	if c.Phonebook, err = NewPhonebook(conn, dev.Directory()); err != nil {
		return nil, err
	}
	for _, comp := range []component.Component{c.Layout, c.SIP, c.Video, c.Presets, c.System, c.Phonebook} {
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

// WithResultID tags cmd so the codec echoes token on its reply.
func WithResultID(cmd, token string) string {
	return fmt.Sprintf("%s | resultId=%q", strings.TrimSpace(cmd), token)
}

func newToken() string {
	return uuid.NewString()
}

// claims tracks resultIds whose reply the requesting call applies itself.
// The feedback handler on the same path skips a claimed reply once.
type claims struct {
	tokens *xsync.MapOf[string, struct{}]
}

func newClaims() claims {
	return claims{tokens: xsync.NewMapOf[string, struct{}]()}
}

func (c claims) hold(token string) {
	c.tokens.Store(token, struct{}{})
}

func (c claims) release(token string) {
	c.tokens.Delete(token)
}

func (c claims) owned(doc *message.Document) bool {
	if doc.ResultID == "" {
		return false
	}
	_, ok := c.tokens.LoadAndDelete(doc.ResultID)
	return ok
}

// isGhost reports an item the codec has withdrawn.
func isGhost(n *message.Node) bool {
	return strings.EqualFold(n.Attrs["ghost"], "true")
}

// commandStatus maps a status="Error" result element to ErrCommandFailed.
func commandStatus(result *message.Node) error {
	if !strings.EqualFold(result.Attrs["status"], "error") {
		return nil
	}
	reason := text(result, "Reason", "")
	if reason == "" {
		reason = text(result, "Error", "unknown")
	}
	return fmt.Errorf("%w: %s: %s", ErrCommandFailed, result.Name, reason)
}
