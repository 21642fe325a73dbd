package cisco

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/message"
	"github.com/rs/zerolog/log"
)

const (
	CameraPresetListPath    = "CommandResponse/CameraPresetListResult"
	CameraPresetUpdatedPath = "Event/CameraPresetListUpdated"

	presetListCommand = "xCommand Camera Preset List"
)

// Preset is one stored camera position.
type Preset struct {
	Item            int    `json:"item"`
	PresetID        int    `json:"preset_id"`
	Name            string `json:"name"`
	CameraID        int    `json:"camera_id"`
	DefaultPosition bool   `json:"default_position"`
}

// CameraPresets holds the preset list. The codec only answers list
// requests, so the component re-requests whenever it announces a change.
type CameraPresets struct {
	conn    requester
	handles component.Handles
	presets *component.Value[[]Preset]
	claimed claims

	ctx        context.Context
	cancel     context.CancelFunc
	refreshing atomic.Bool
}

func NewCameraPresets(conn requester, bus *component.Bus) (*CameraPresets, error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &CameraPresets{
		conn:    conn,
		presets: component.NewValue[[]Preset](nil),
		claimed: newClaims(),
		ctx:     ctx,
		cancel:  cancel,
	}
	d := conn.Dispatcher()
	if err := p.handles.Keep(d.RegisterAsync(CameraPresetListPath, p.handleList)); err != nil {
		cancel()
		return nil, err
	}
	if err := p.handles.Keep(d.RegisterAsync(CameraPresetUpdatedPath, p.handleUpdated)); err != nil {
		p.Close()
		return nil, err
	}
	component.Track(p.presets, bus, p.Name(), "presets")
	return p, nil
}

func (p *CameraPresets) Name() string {
	return "camera_presets"
}

func (p *CameraPresets) InitCommands() []string {
	return []string{
		"xFeedback register /" + CameraPresetUpdatedPath,
		presetListCommand,
	}
}

func (p *CameraPresets) Presets() []Preset {
	v, _ := p.presets.Get()
	return append([]Preset(nil), v...)
}

func (p *CameraPresets) OnChange(fn func(old, next []Preset)) *component.Subscription {
	return p.presets.OnChange(fn)
}

// Refresh requests the preset list and waits for the matching reply.
func (p *CameraPresets) Refresh(ctx context.Context) ([]Preset, error) {
	token := newToken()
	p.claimed.hold(token)
	doc, err := p.conn.Request(ctx, CameraPresetListPath, token, WithResultID(presetListCommand, token))
	if err != nil {
		p.claimed.release(token)
		return nil, err
	}
	list, err := parsePresets(doc)
	if err != nil {
		return nil, err
	}
	p.presets.Set(list)
	return list, nil
}

func (p *CameraPresets) Snapshot() map[string]any {
	return map[string]any{"presets": p.Presets()}
}

func (p *CameraPresets) Close() {
	p.cancel()
	p.handles.Close()
}

func (p *CameraPresets) handleList(doc *message.Document) {
	if p.claimed.owned(doc) {
		return
	}
	list, err := parsePresets(doc)
	if err != nil {
		log.Warn().Err(err).Msg("cisco: preset list rejected")
		return
	}
	p.presets.Set(list)
}

// handleUpdated runs on the read loop, so the refresh must not block it.
func (p *CameraPresets) handleUpdated(*message.Document) {
	if !p.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer p.refreshing.Store(false)
		if _, err := p.Refresh(p.ctx); err != nil && p.ctx.Err() == nil {
			log.Warn().Err(err).Msg("cisco: preset refresh failed")
		}
	}()
}

func parsePresets(doc *message.Document) ([]Preset, error) {
	result := doc.First()
	if result == nil {
		return nil, fmt.Errorf("%w: empty preset result", message.ErrMalformedFrame)
	}
	if err := commandStatus(result); err != nil {
		return nil, err
	}
	presets := result.All("Preset")
	out := make([]Preset, 0, len(presets))
	for _, n := range presets {
		def, _ := n.Bool("DefaultPosition")
		out = append(out, Preset{
			Item:            n.Item,
			PresetID:        number(n, "PresetId", 0),
			Name:            text(n, "Name", ""),
			CameraID:        number(n, "CameraId", 0),
			DefaultPosition: def,
		})
	}
	return out, nil
}
