package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "inventory":
		return inventoryTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const inventoryTemplate = `[[codecs]]
id = "boardroom"
vendor = "cisco"
transport = "ssh"
addr = "10.0.10.21"
user = "admin"
password = "change-me"
known_hosts = "/etc/codecctl/known_hosts"
sync_directory = true

[[codecs]]
id = "huddle"
vendor = "zoom"
transport = "ssh"
addr = "10.0.10.40"
user = "zoom"
password = "change-me"
insecure_host_key = true
sync_directory = true

[[codecs]]
id = "training"
vendor = "polycom"
addr = "10.0.10.33"

[[codecs]]
id = "av-bridge"
vendor = "vaddio"
addr = "10.0.10.50:23"
enabled = false
`
