package cisco

import (
	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/message"
)

const (
	SystemUnitPath  = "Status/SystemUnit"
	NetworkPath     = "Status/Network"
	DiagnosticsPath = "Status/Diagnostics"
)

// Info is the identity and addressing of the codec.
type Info struct {
	ProductID       string `json:"product_id"`
	SoftwareVersion string `json:"software_version"`
	SerialNumber    string `json:"serial_number"`
	Uptime          int    `json:"uptime"`
	IPv4            string `json:"ipv4"`
	MAC             string `json:"mac"`
}

// Diagnostic is one entry of the codec's self-diagnostics.
type Diagnostic struct {
	Item        int    `json:"item"`
	Level       string `json:"level"`
	Type        string `json:"type"`
	Description string `json:"description"`
	References  string `json:"references,omitempty"`
}

// SystemInfo tracks unit, network and diagnostics status.
type SystemInfo struct {
	handles     component.Handles
	info        *component.Value[Info]
	diagnostics *component.Value[[]Diagnostic]
}

func NewSystemInfo(d *dispatcher, bus *component.Bus) (*SystemInfo, error) {
	s := &SystemInfo{
		info:        component.NewValue[Info](nil),
		diagnostics: component.NewValue[[]Diagnostic](nil),
	}
	for _, reg := range []struct {
		key string
		fn  func(*message.Document)
	}{
		{SystemUnitPath, s.handleUnit},
		{NetworkPath, s.handleNetwork},
		{DiagnosticsPath, s.handleDiagnostics},
	} {
		if err := s.handles.Keep(d.RegisterAsync(reg.key, reg.fn)); err != nil {
			s.Close()
			return nil, err
		}
	}
	component.Track(s.info, bus, s.Name(), "info")
	component.Track(s.diagnostics, bus, s.Name(), "diagnostics")
	return s, nil
}

func (s *SystemInfo) Name() string {
	return "system"
}

func (s *SystemInfo) InitCommands() []string {
	return []string{
		"xFeedback register /" + SystemUnitPath,
		"xFeedback register /" + NetworkPath,
		"xFeedback register /" + DiagnosticsPath,
		"xStatus SystemUnit",
		"xStatus Network",
		"xStatus Diagnostics",
	}
}

func (s *SystemInfo) Info() Info {
	v, _ := s.info.Get()
	return v
}

func (s *SystemInfo) Diagnostics() []Diagnostic {
	v, _ := s.diagnostics.Get()
	return append([]Diagnostic(nil), v...)
}

func (s *SystemInfo) OnInfoChange(fn func(old, next Info)) *component.Subscription {
	return s.info.OnChange(fn)
}

func (s *SystemInfo) OnDiagnosticsChange(fn func(old, next []Diagnostic)) *component.Subscription {
	return s.diagnostics.OnChange(fn)
}

func (s *SystemInfo) Snapshot() map[string]any {
	return map[string]any{
		"info":        s.Info(),
		"diagnostics": s.Diagnostics(),
	}
}

func (s *SystemInfo) Close() {
	s.handles.Close()
}

func (s *SystemInfo) handleUnit(doc *message.Document) {
	unit := doc.First()
	if unit == nil {
		return
	}
	info := s.Info()
	info.ProductID = text(unit, "ProductId", info.ProductID)
	info.SoftwareVersion = text(unit, "Software/Version", info.SoftwareVersion)
	info.SerialNumber = text(unit, "Hardware/Module/SerialNumber", info.SerialNumber)
	info.Uptime = number(unit, "Uptime", info.Uptime)
	s.info.Set(info)
}

func (s *SystemInfo) handleNetwork(doc *message.Document) {
	info := s.Info()
	for _, n := range doc.Nodes {
		if n.Item > 1 {
			continue
		}
		info.IPv4 = text(n, "IPv4/Address", info.IPv4)
		info.MAC = text(n, "Ethernet/MacAddress", info.MAC)
	}
	s.info.Set(info)
}

func (s *SystemInfo) handleDiagnostics(doc *message.Document) {
	for _, diag := range doc.Nodes {
		messages := diag.All("Message")
		if len(messages) == 0 {
			continue
		}
		cur, _ := s.diagnostics.Get()
		s.diagnostics.Set(mergeItems(cur, messages,
			func(d Diagnostic) int { return d.Item },
			func(d Diagnostic, n *message.Node) Diagnostic {
				d.Item = n.Item
				d.Level = text(n, "Level", d.Level)
				d.Type = text(n, "Type", d.Type)
				d.Description = text(n, "Description", d.Description)
				d.References = text(n, "References", d.References)
				return d
			}))
	}
}
