package zoom

import (
	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/message"
)

var SystemUnitKey = message.KeyFor(message.TypeStatus, "SystemUnit")

// Info identifies the room.
type Info struct {
	RoomName string `json:"room_name"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Email    string `json:"email"`
	Meeting  string `json:"meeting_number"`
}

type SystemInfo struct {
	handles component.Handles
	info    *component.Value[Info]
}

func NewSystemInfo(d *dispatcher, bus *component.Bus) (*SystemInfo, error) {
	s := &SystemInfo{info: component.NewValue[Info](nil)}
	if err := s.handles.Keep(d.RegisterAsync(SystemUnitKey, s.handle)); err != nil {
		return nil, err
	}
	component.Track(s.info, bus, s.Name(), "info")
	return s, nil
}

func (s *SystemInfo) Name() string {
	return "system"
}

func (s *SystemInfo) InitCommands() []string {
	return []string{"zStatus SystemUnit"}
}

func (s *SystemInfo) Info() Info {
	v, _ := s.info.Get()
	return v
}

func (s *SystemInfo) Snapshot() map[string]any {
	return map[string]any{"info": s.Info()}
}

func (s *SystemInfo) Close() {
	s.handles.Close()
}

func (s *SystemInfo) handle(r *message.Record) {
	info := s.Info()
	set := func(dst *string, path string) {
		if v, ok := r.String(path); ok {
			*dst = v
		}
	}
	set(&info.RoomName, "room_info.room_name")
	set(&info.Version, "room_version")
	set(&info.Platform, "platform")
	set(&info.Email, "email")
	set(&info.Meeting, "meeting_number")
	s.info.Set(info)
}
