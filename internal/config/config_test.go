package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, ":3001", cfg.Server.Address)
	assert.Equal(t, "ws://localhost:3001/ws", cfg.Signaling.URL)
	assert.Equal(t, 3, cfg.Session.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Session.Deadline)
	assert.True(t, cfg.Session.Fallback)
	assert.Len(t, cfg.GetSTUNServers(), 2)
	assert.Nil(t, cfg.GetTURNServers())
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
session:
  max_attempts: 5
  deadline: 10s
  fallback_deadline: 20s
ice:
  turn: turn.example.com
`), 0o600))
	t.Setenv("PAIRLINK_SESSION_RETRY_DELAY", "250ms")

	cfg, err := Load(Options{File: file, ServerURL: "wss://rv.example.com/ws", NoFallback: true})
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Session.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.RetryDelay)
	assert.False(t, cfg.Session.Fallback)
	assert.Equal(t, "https://rv.example.com", cfg.HTTPBase())
	assert.Equal(t, "https://rv.example.com/r/ABCD1234", cfg.GetRoomLink("ABCD1234"))
	assert.Equal(t, []string{
		"turn:turn.example.com:3478?transport=udp",
		"turn:turn.example.com:3478?transport=tcp",
		"turns:turn.example.com:5349?transport=tcp",
	}, cfg.GetTURNServers())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Signaling: Signaling{URL: "ws://localhost:3001/ws"},
			Session:   Session{MaxAttempts: 1, Deadline: time.Second, Fallback: true, FallbackDeadline: 2 * time.Second},
		}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.Session.MaxAttempts = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Session.FallbackDeadline = time.Millisecond
	assert.Error(t, c.Validate())

	c = base()
	c.ICE.ForceRelay = true
	assert.ErrorContains(t, c.Validate(), "TURN")
}
