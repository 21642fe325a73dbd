package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/codecctl/internal/testutil/testlog"
	"github.com/danmuck/codecctl/internal/transport"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write inventory: %v", err)
	}
	return path
}

func TestLoadTemplateInventory(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "inventory.toml")
	if err := WriteTemplate(path, "inventory", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "inventory", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	inv, err := LoadInventory(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(inv.Codecs) != 4 {
		t.Fatalf("expected 4 codecs, got %d", len(inv.Codecs))
	}
	enabled := inv.Enabled()
	if len(enabled) != 3 || enabled[2].ID != "training" {
		t.Fatalf("unexpected enabled set: %+v", enabled)
	}
	if enabled[2].Transport != TransportTCP {
		t.Fatalf("transport should default to tcp, got %q", enabled[2].Transport)
	}
}

func TestInventoryValidation(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown vendor":    "[[codecs]]\nid = \"a\"\nvendor = \"lifesize\"\naddr = \"h\"\n",
		"id is required":    "[[codecs]]\nvendor = \"cisco\"\naddr = \"h\"\n",
		"addr is required":  "[[codecs]]\nid = \"a\"\nvendor = \"cisco\"\n",
		"user is required":  "[[codecs]]\nid = \"a\"\nvendor = \"cisco\"\naddr = \"h\"\ntransport = \"ssh\"\n",
		"unknown transport": "[[codecs]]\nid = \"a\"\nvendor = \"cisco\"\naddr = \"h\"\ntransport = \"serial\"\n",
		"already used":      "[[codecs]]\nid = \"a\"\nvendor = \"cisco\"\naddr = \"h\"\n[[codecs]]\nid = \" a \"\nvendor = \"zoom\"\naddr = \"h2\"\n",
	}
	for want, body := range cases {
		_, err := LoadInventory(writeFile(t, body))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q error, got %v", want, err)
		}
	}
	if _, err := LoadInventory(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected load error for missing file")
	}
}

func TestDialerSelection(t *testing.T) {
	testlog.Start(t)
	d := Dialer(CodecConfig{Vendor: "polycom", Transport: TransportTCP, Addr: "10.0.0.5"}, time.Second)
	tcp, ok := d.(transport.TCP)
	if !ok || tcp.DefaultPort != "24" || tcp.Timeout != time.Second {
		t.Fatalf("unexpected polycom dialer %#v", d)
	}
	d = Dialer(CodecConfig{Vendor: "zoom", Transport: TransportSSH, Addr: "10.0.0.6", User: "zoom"}, 0)
	sshd, ok := d.(transport.SSH)
	if !ok || sshd.Port != "2244" || sshd.User != "zoom" {
		t.Fatalf("unexpected zoom dialer %#v", d)
	}
	d = Dialer(CodecConfig{Vendor: "cisco", Transport: TransportSSH, Addr: "10.0.0.7:2222"}, 0)
	if sshd := d.(transport.SSH); sshd.Port != "" || sshd.Host != "10.0.0.7:2222" {
		t.Fatalf("explicit port must be kept: %#v", sshd)
	}
}
