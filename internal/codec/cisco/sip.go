package cisco

import (
	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/message"
)

const SIPRegistrationPath = "Status/SIP/Registration"

// Registration states reported by the codec.
const (
	RegistrationRegistered   = "Registered"
	RegistrationRegistering  = "Registering"
	RegistrationDeregistered = "Deregister"
	RegistrationFailed       = "Failed"
	RegistrationInactive     = "Inactive"
)

// Registration is one SIP registration entry.
type Registration struct {
	Item   int    `json:"item"`
	Status string `json:"status"`
	URI    string `json:"uri"`
	Reason string `json:"reason,omitempty"`
}

// SIPRegistration tracks every SIP registration of the codec.
type SIPRegistration struct {
	handles component.Handles
	entries *component.Value[[]Registration]
}

func NewSIPRegistration(d *dispatcher, bus *component.Bus) (*SIPRegistration, error) {
	s := &SIPRegistration{entries: component.NewValue[[]Registration](nil)}
	if err := s.handles.Keep(d.RegisterAsync(SIPRegistrationPath, s.handle)); err != nil {
		return nil, err
	}
	component.Track(s.entries, bus, s.Name(), "registrations")
	return s, nil
}

func (s *SIPRegistration) Name() string {
	return "sip"
}

func (s *SIPRegistration) InitCommands() []string {
	return []string{
		"xFeedback register /" + SIPRegistrationPath,
		"xStatus SIP Registration",
	}
}

// Registrations returns a copy of the held entries.
func (s *SIPRegistration) Registrations() []Registration {
	v, _ := s.entries.Get()
	return append([]Registration(nil), v...)
}

// Registered reports whether any entry is registered.
func (s *SIPRegistration) Registered() bool {
	for _, r := range s.Registrations() {
		if r.Status == RegistrationRegistered {
			return true
		}
	}
	return false
}

func (s *SIPRegistration) OnChange(fn func(old, next []Registration)) *component.Subscription {
	return s.entries.OnChange(fn)
}

func (s *SIPRegistration) Snapshot() map[string]any {
	return map[string]any{
		"registered":    s.Registered(),
		"registrations": s.Registrations(),
	}
}

func (s *SIPRegistration) Close() {
	s.handles.Close()
}

func (s *SIPRegistration) handle(doc *message.Document) {
	cur, _ := s.entries.Get()
	s.entries.Set(mergeItems(cur, doc.Nodes,
		func(r Registration) int { return r.Item },
		func(r Registration, n *message.Node) Registration {
			r.Item = n.Item
			r.Status = text(n, "Status", r.Status)
			r.URI = text(n, "URI", r.URI)
			r.Reason = text(n, "Reason", r.Reason)
			return r
		}))
}
