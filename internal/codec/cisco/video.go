package cisco

import (
	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/message"
)

const VideoInputPath = "Status/Video/Input"

// Source is one video input source.
type Source struct {
	Item         int    `json:"item"`
	ConnectorID  int    `json:"connector_id"`
	FormatStatus string `json:"format_status"`
	FormatType   string `json:"format_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

// VideoInput tracks input sources and the selected main source.
type VideoInput struct {
	handles component.Handles
	sources *component.Value[[]Source]
	main    *component.Value[int]
}

func NewVideoInput(d *dispatcher, bus *component.Bus) (*VideoInput, error) {
	v := &VideoInput{
		sources: component.NewValue[[]Source](nil),
		main:    component.Comparable[int](),
	}
	if err := v.handles.Keep(d.RegisterAsync(VideoInputPath, v.handle)); err != nil {
		return nil, err
	}
	component.Track(v.sources, bus, v.Name(), "sources")
	component.Track(v.main, bus, v.Name(), "main_video_source")
	return v, nil
}

func (v *VideoInput) Name() string {
	return "video_input"
}

func (v *VideoInput) InitCommands() []string {
	return []string{
		"xFeedback register /" + VideoInputPath,
		"xStatus Video Input",
	}
}

func (v *VideoInput) Sources() []Source {
	s, _ := v.sources.Get()
	return append([]Source(nil), s...)
}

// MainSource returns the id of the main video source.
func (v *VideoInput) MainSource() (int, bool) {
	return v.main.Get()
}

func (v *VideoInput) OnSourcesChange(fn func(old, next []Source)) *component.Subscription {
	return v.sources.OnChange(fn)
}

func (v *VideoInput) OnMainSourceChange(fn func(old, next int)) *component.Subscription {
	return v.main.OnChange(fn)
}

func (v *VideoInput) Snapshot() map[string]any {
	main, _ := v.main.Get()
	return map[string]any{
		"sources":           v.Sources(),
		"main_video_source": main,
	}
}

func (v *VideoInput) Close() {
	v.handles.Close()
}

func (v *VideoInput) handle(doc *message.Document) {
	for _, input := range doc.Nodes {
		if id, ok := input.Int("MainVideoSource"); ok {
			v.main.Set(id)
		}
		sources := input.All("Source")
		if len(sources) == 0 {
			continue
		}
		cur, _ := v.sources.Get()
		v.sources.Set(mergeItems(cur, sources,
			func(s Source) int { return s.Item },
			func(s Source, n *message.Node) Source {
				s.Item = n.Item
				s.ConnectorID = number(n, "ConnectorId", s.ConnectorID)
				s.FormatStatus = text(n, "FormatStatus", s.FormatStatus)
				s.FormatType = text(n, "FormatType", s.FormatType)
				s.Width = number(n, "Resolution/Width", s.Width)
				s.Height = number(n, "Resolution/Height", s.Height)
				return s
			}))
	}
}
