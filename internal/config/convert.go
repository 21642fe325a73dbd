package config

import (
	"net"
	"time"

	"github.com/danmuck/codecctl/internal/transport"
)

// DefaultPort is the control port a vendor listens on for transport.
func DefaultPort(vendor, kind string) string {
	switch {
	case kind == TransportSSH && vendor == "zoom":
		return "2244"
	case kind == TransportSSH:
		return "22"
	case vendor == "polycom":
		return "24"
	default:
		return "23"
	}
}

// Dialer builds the transport for one inventory entry.
func Dialer(c CodecConfig, timeout time.Duration) transport.Dialer {
	if c.Transport == TransportSSH {
		return transport.SSH{
			Host:                        c.Addr,
			Port:                        portOf(c),
			User:                        c.User,
			Password:                    c.Password,
			KeyPath:                     c.KeyPath,
			KnownHostsPath:              c.KnownHosts,
			InsecureSkipHostKeyChecking: c.InsecureHostKey,
			Timeout:                     timeout,
		}
	}
	return transport.TCP{
		Addr:        c.Addr,
		DefaultPort: DefaultPort(c.Vendor, c.Transport),
		Timeout:     timeout,
	}
}

// portOf is empty when addr already carries a port.
func portOf(c CodecConfig) string {
	if _, _, err := net.SplitHostPort(c.Addr); err == nil {
		return ""
	}
	return DefaultPort(c.Vendor, c.Transport)
}
