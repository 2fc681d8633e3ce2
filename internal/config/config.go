// Package config loads canvasd configuration from YAML with defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/canvasync/internal/projector"
	"github.com/roach88/canvasync/internal/realtime"
)

// Config is the top-level canvasd configuration.
type Config struct {
	Listen   string         `yaml:"listen" validate:"required,hostname_port"`
	Database string         `yaml:"database" validate:"required"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Oplog    OplogConfig    `yaml:"oplog"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

// SnapshotConfig controls debounced snapshot writes.
type SnapshotConfig struct {
	Debounce     time.Duration `yaml:"debounce" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

// OplogConfig controls op log persistence.
type OplogConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

// ProxyConfig lists remote storage hosts whose media URLs are rewritten
// through a local proxy when a snapshot is loaded.
type ProxyConfig struct {
	Prefix  string   `yaml:"prefix" validate:"required_with=Domains"`
	Domains []string `yaml:"domains" validate:"dive,hostname"`
}

// RealtimeConfig tunes the websocket transport.
type RealtimeConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gt=0"`
	PingInterval   time.Duration `yaml:"ping_interval" validate:"gt=0,ltfield=ReadTimeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" validate:"gt=0"`
	SendBuffer     int           `yaml:"send_buffer" validate:"gte=1"`
}

var cfgValidate = validator.New()

// Default returns the built-in configuration.
func Default() *Config {
	rt := realtime.DefaultSettings()
	return &Config{
		Listen:   ":8080",
		Database: "canvas.db",
		Snapshot: SnapshotConfig{Debounce: 300 * time.Millisecond, WriteTimeout: 10 * time.Second},
		Oplog:    OplogConfig{WriteTimeout: 10 * time.Second},
		Proxy:    ProxyConfig{Prefix: "/api/proxy?url="},
		Realtime: RealtimeConfig{
			WriteTimeout:   rt.WriteTimeout,
			ReadTimeout:    rt.ReadTimeout,
			PingInterval:   rt.PingInterval,
			ReconnectDelay: rt.ReconnectDelay,
			SendBuffer:     rt.SendBuffer,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := cfgValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid %s: failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}
	return nil
}

// ProxyRewriter returns the media proxy, or nil when no domains are set.
func (c *Config) ProxyRewriter() *projector.Proxy {
	if len(c.Proxy.Domains) == 0 {
		return nil
	}
	return &projector.Proxy{Prefix: c.Proxy.Prefix, Domains: c.Proxy.Domains}
}

// RealtimeSettings returns the transport settings.
func (c *Config) RealtimeSettings() realtime.Settings {
	s := realtime.DefaultSettings()
	s.WriteTimeout = c.Realtime.WriteTimeout
	s.ReadTimeout = c.Realtime.ReadTimeout
	s.PingInterval = c.Realtime.PingInterval
	s.ReconnectDelay = c.Realtime.ReconnectDelay
	s.SendBuffer = c.Realtime.SendBuffer
	return s
}
