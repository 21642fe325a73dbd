package fleet

import (
	"io"

	"github.com/danmuck/codecctl/internal/codec/cisco"
	"github.com/danmuck/codecctl/internal/codec/device"
	"github.com/danmuck/codecctl/internal/codec/polycom"
	"github.com/danmuck/codecctl/internal/codec/session"
	"github.com/danmuck/codecctl/internal/codec/vaddio"
	"github.com/danmuck/codecctl/internal/codec/zoom"
)

// Factory builds a device for one vendor on an open stream.
type Factory func(id string, rw io.ReadWriteCloser, cfg session.Config) (device.Codec, error)

// DefaultFactories maps every supported vendor to its device constructor.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		cisco.Vendor: func(id string, rw io.ReadWriteCloser, cfg session.Config) (device.Codec, error) {
			return cisco.Open(id, rw, cfg)
		},
		zoom.Vendor: func(id string, rw io.ReadWriteCloser, cfg session.Config) (device.Codec, error) {
			return zoom.Open(id, rw, cfg)
		},
		polycom.Vendor: func(id string, rw io.ReadWriteCloser, cfg session.Config) (device.Codec, error) {
			return polycom.Open(id, rw, cfg)
		},
		vaddio.Vendor: func(id string, rw io.ReadWriteCloser, cfg session.Config) (device.Codec, error) {
			return vaddio.Open(id, rw, cfg)
		},
	}
}
