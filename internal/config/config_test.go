package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canvasd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "canvas.db", cfg.Database)
	assert.Equal(t, 300*time.Millisecond, cfg.Snapshot.Debounce)
	assert.Nil(t, cfg.ProxyRewriter())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: 127.0.0.1:9000
database: /tmp/c.db
snapshot:
  debounce: 1s
proxy:
  domains:
    - storage.googleapis.com
    - r2.example.com
realtime:
  reconnect_delay: 500ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, time.Second, cfg.Snapshot.Debounce)
	assert.Equal(t, 10*time.Second, cfg.Snapshot.WriteTimeout, "unset fields keep defaults")

	p := cfg.ProxyRewriter()
	require.NotNil(t, p)
	assert.Equal(t, "/api/proxy?url=", p.Prefix)
	assert.Len(t, p.Domains, 2)

	rt := cfg.RealtimeSettings()
	assert.Equal(t, 500*time.Millisecond, rt.ReconnectDelay)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad listen", "listen: nowhere", "Listen"},
		{"zero debounce", "snapshot:\n  debounce: 0s", "Debounce"},
		{"bad domain", "proxy:\n  domains: [\"not a host\"]", "Domains"},
		{"ping slower than read", "realtime:\n  ping_interval: 2m\n  read_timeout: 1m", "PingInterval"},
		{"not yaml", "listen: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
