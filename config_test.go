package realtime

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("wss://api.example.com/ws")

	assert.Equal(t, "token", cfg.TokenParam)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 1000, cfg.Queue.Capacity)
	assert.Equal(t, "drop_oldest", cfg.Queue.Overflow)
	assert.Zero(t, cfg.HeartbeatTimeout)
	assert.Zero(t, cfg.ReopenInterval)
	assert.NoError(t, cfg.Validate())
}

func TestParseConfig(t *testing.T) {
	t.Setenv("RT_TEST_HOST", "realtime.example.com")

	cfg, err := ParseConfig([]byte(`
url: https://${RT_TEST_HOST}/ws
heartbeat_interval: 15s
heartbeat_timeout: 45s
reconnect_base_delay: 500ms
reconnect_max_delay: 10s
max_reconnect_attempts: 8
queue:
  capacity: 50
  overflow: reject
log_level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "https://realtime.example.com/ws", cfg.URL)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 45*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectBaseDelay)
	assert.Equal(t, 10*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 8, cfg.MaxReconnectAttempts)
	assert.Equal(t, QueueConfig{Capacity: 50, Overflow: "reject"}, cfg.Queue)
	assert.Equal(t, OverflowReject, cfg.overflowPolicy())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "missing url", yaml: "heartbeat_interval: 1s", want: "url is required"},
		{name: "bad scheme", yaml: "url: ftp://example.com", want: "unsupported scheme"},
		{name: "negative timeout", yaml: "url: ws://x\nconnect_timeout: -1s", want: "connect_timeout must not be negative"},
		{name: "bad overflow", yaml: "url: ws://x\nqueue:\n  overflow: block", want: "unknown overflow policy"},
		{name: "not yaml", yaml: "url: [", want: "parse config yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfigValidate_AggregatesErrors(t *testing.T) {
	cfg := DefaultConfig("")
	cfg.WriteTimeout = -time.Second
	cfg.ReopenInterval = -time.Minute

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 config error(s)")
}

func TestParseConfig_ReconnectAttempts(t *testing.T) {
	cfg, err := ParseConfig([]byte("url: ws://x\nmax_reconnect_attempts: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxReconnectAttempts, cfg.MaxReconnectAttempts)

	cfg, err = ParseConfig([]byte("url: ws://x\nmax_reconnect_attempts: -1\n"))
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.MaxReconnectAttempts)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: ws://localhost:8080/ws\nreopen_interval: 1h\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.URL)
	assert.Equal(t, time.Hour, cfg.ReopenInterval)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}
