package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/codecctl/internal/fanout"
	"github.com/danmuck/codecctl/internal/fleet"
)

// serviceConfig is the resolved process configuration.
type serviceConfig struct {
	ID            string
	InventoryPath string
	AdminAddr     string
	AdminToken    string
	CorsOrigins   []string
	NATSURL       string
	SubjectPrefix string
	RedisAddr     string
	StateTTL      time.Duration
	Fleet         fleet.Config
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		ID:            "codecctl",
		InventoryPath: "inventory.toml",
		AdminAddr:     "127.0.0.1:7400",
		SubjectPrefix: fanout.DefaultSubjectPrefix,
		StateTTL:      fanout.DefaultStateTTL,
		Fleet:         fleet.DefaultConfig(),
	}
}

// codecctl config.toml key mapping.
type fileConfig struct {
	ID                string   `toml:"id"`
	Inventory         string   `toml:"inventory"`
	AdminAddr         string   `toml:"admin_addr"`
	AdminToken        string   `toml:"admin_token"`
	CorsOrigins       []string `toml:"cors_origins"`
	NATSURL           string   `toml:"nats_url"`
	NATSSubjectPrefix string   `toml:"nats_subject_prefix"`
	RedisAddr         string   `toml:"redis_addr"`
	RedisTTL          string   `toml:"redis_ttl"`
	ReplyTimeout      string   `toml:"reply_timeout"`
	DialTimeout       string   `toml:"dial_timeout"`
	ReconnectInitial  string   `toml:"reconnect_initial"`
	ReconnectMax      string   `toml:"reconnect_max"`
	MaxDialAttempts   int      `toml:"max_dial_attempts"`
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load codecctl config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("inventory") {
		cfg.InventoryPath = strings.TrimSpace(raw.Inventory)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("nats_url") {
		cfg.NATSURL = strings.TrimSpace(raw.NATSURL)
	}
	if meta.IsDefined("nats_subject_prefix") {
		cfg.SubjectPrefix = strings.TrimSpace(raw.NATSSubjectPrefix)
	}
	if meta.IsDefined("redis_addr") {
		cfg.RedisAddr = strings.TrimSpace(raw.RedisAddr)
	}

	if meta.IsDefined("max_dial_attempts") {
		if raw.MaxDialAttempts < 0 {
			return serviceConfig{}, fmt.Errorf("parse max_dial_attempts: must not be negative")
		}
		cfg.Fleet.MaxDialAttempts = raw.MaxDialAttempts
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"redis_ttl", raw.RedisTTL, &cfg.StateTTL},
		{"reply_timeout", raw.ReplyTimeout, &cfg.Fleet.Session.ReplyTimeout},
		{"dial_timeout", raw.DialTimeout, &cfg.Fleet.DialTimeout},
		{"reconnect_initial", raw.ReconnectInitial, &cfg.Fleet.Backoff.InitialDelay},
		{"reconnect_max", raw.ReconnectMax, &cfg.Fleet.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		if v <= 0 {
			return serviceConfig{}, fmt.Errorf("parse %s: must be positive", d.key)
		}
		*d.dst = v
	}

	if cfg.InventoryPath == "" {
		return serviceConfig{}, fmt.Errorf("load codecctl config: inventory is required")
	}
	if !filepath.IsAbs(cfg.InventoryPath) {
		cfg.InventoryPath = filepath.Join(filepath.Dir(path), cfg.InventoryPath)
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
