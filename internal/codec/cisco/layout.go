package cisco

import (
	"strings"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/message"
	"github.com/rs/zerolog/log"
)

const PresentationViewPath = "Status/Video/Layout/PresentationView"

// View is the presentation layout state.
type View string

const (
	ViewDefault   View = "Default"
	ViewMaximized View = "Maximized"
	ViewMinimized View = "Minimized"
)

// ParseView accepts any casing of a known view.
func ParseView(raw string) (View, bool) {
	for _, v := range []View{ViewDefault, ViewMaximized, ViewMinimized} {
		if strings.EqualFold(strings.TrimSpace(raw), string(v)) {
			return v, true
		}
	}
	return "", false
}

// Layout tracks the presentation view.
type Layout struct {
	handles component.Handles
	view    *component.Value[View]
}

func NewLayout(d *dispatcher, bus *component.Bus) (*Layout, error) {
	l := &Layout{view: component.Comparable[View]()}
	if err := l.handles.Keep(d.RegisterAsync(PresentationViewPath, l.handle)); err != nil {
		return nil, err
	}
	component.Track(l.view, bus, l.Name(), "presentation_view")
	return l, nil
}

func (l *Layout) Name() string {
	return "layout"
}

func (l *Layout) InitCommands() []string {
	return []string{
		"xFeedback register /" + PresentationViewPath,
		"xStatus Video Layout PresentationView",
	}
}

// View returns the last reported view.
func (l *Layout) View() (View, bool) {
	return l.view.Get()
}

func (l *Layout) OnChange(fn func(old, next View)) *component.Subscription {
	return l.view.OnChange(fn)
}

func (l *Layout) Snapshot() map[string]any {
	v, _ := l.view.Get()
	return map[string]any{"presentation_view": string(v)}
}

func (l *Layout) Close() {
	l.handles.Close()
}

func (l *Layout) handle(doc *message.Document) {
	n := doc.First()
	if n == nil {
		return
	}
	v, ok := ParseView(n.Text)
	if !ok {
		log.Debug().Str("value", n.Text).Msg("cisco: unknown presentation view")
		return
	}
	l.view.Set(v)
}
