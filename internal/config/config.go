// Package config loads the codec inventory: which codecs to drive and how
// to reach them.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	TransportTCP = "tcp"
	TransportSSH = "ssh"
)

// Vendors lists the vendor names an inventory entry may use.
var Vendors = []string{"cisco", "polycom", "vaddio", "zoom"}

type Inventory struct {
	Codecs []CodecConfig `toml:"codecs"`
}

type CodecConfig struct {
	ID              string `toml:"id"`
	Vendor          string `toml:"vendor"`
	Transport       string `toml:"transport"`
	Addr            string `toml:"addr"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	KeyPath         string `toml:"key_path"`
	KnownHosts      string `toml:"known_hosts"`
	InsecureHostKey bool   `toml:"insecure_host_key"`
	SyncDirectory   bool   `toml:"sync_directory"`
	Enabled         *bool  `toml:"enabled"`
}

// IsEnabled reports whether the entry should be connected; entries are
// enabled unless they say otherwise.
func (c CodecConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func LoadInventory(path string) (Inventory, error) {
	var inv Inventory
	if err := loadToml(path, &inv); err != nil {
		return Inventory{}, err
	}
	for i := range inv.Codecs {
		inv.Codecs[i] = normalize(inv.Codecs[i])
	}
	if err := ValidateInventory(inv); err != nil {
		return Inventory{}, err
	}
	return inv, nil
}

// Enabled returns the entries to connect, in file order.
func (inv Inventory) Enabled() []CodecConfig {
	out := make([]CodecConfig, 0, len(inv.Codecs))
	for _, c := range inv.Codecs {
		if c.IsEnabled() {
			out = append(out, c)
		}
	}
	return out
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func normalize(c CodecConfig) CodecConfig {
	c.ID = strings.TrimSpace(c.ID)
	c.Vendor = strings.ToLower(strings.TrimSpace(c.Vendor))
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	c.Addr = strings.TrimSpace(c.Addr)
	return c
}

func ValidateInventory(inv Inventory) error {
	seen := make(map[string]int, len(inv.Codecs))
	for i, c := range inv.Codecs {
		if err := ValidateCodec(c); err != nil {
			return fmt.Errorf("codec[%d] invalid: %w", i, err)
		}
		if prev, ok := seen[c.ID]; ok {
			return fmt.Errorf("codec[%d] invalid: id %q already used by codec[%d]", i, c.ID, prev)
		}
		seen[c.ID] = i
	}
	return nil
}

func ValidateCodec(c CodecConfig) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if !slices.Contains(Vendors, c.Vendor) {
		return fmt.Errorf("unknown vendor %q", c.Vendor)
	}
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	switch c.Transport {
	case TransportTCP:
	case TransportSSH:
		if strings.TrimSpace(c.User) == "" {
			return fmt.Errorf("user is required for ssh")
		}
		if c.KeyPath == "" && c.Password == "" {
			return fmt.Errorf("key_path or password is required for ssh")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}
