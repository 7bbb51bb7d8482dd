package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"
)

// EnvPrefix prefixes every environment override, e.g. PAIRLINK_SESSION_MAX_ATTEMPTS.
const EnvPrefix = "PAIRLINK"

// FileName is the configuration file looked up in the search dirs.
const FileName = "pairlink.yaml"

// Config holds application configuration.
type Config struct {
	Server    Server    `fig:"server"`
	Signaling Signaling `fig:"signaling"`
	ICE       ICE       `fig:"ice"`
	Session   Session   `fig:"session"`
	Log       Log       `fig:"log"`
}

// Server configures the rendezvous server.
type Server struct {
	Address         string   `fig:"address" default:":3001"`
	ReadBufferSize  int      `fig:"read_buffer_size" default:"65536"`
	WriteBufferSize int      `fig:"write_buffer_size" default:"65536"`
	AllowedOrigins  []string `fig:"allowed_origins"`
	Metrics         bool     `fig:"metrics" default:"true"`
}

// Signaling points a peer at a rendezvous server.
type Signaling struct {
	URL string `fig:"url" default:"ws://localhost:3001/ws"`
}

// ICE servers for WebRTC.
type ICE struct {
	STUN       []string `fig:"stun" default:"[stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302]"`
	TURN       string   `fig:"turn"`
	TURNUser   string   `fig:"turn_user"`
	TURNPass   string   `fig:"turn_pass"`
	ForceRelay bool     `fig:"force_relay"`
}

// Session holds the retry and fallback policy of a peer session.
type Session struct {
	MaxAttempts      int           `fig:"max_attempts" default:"3"`
	RetryDelay       time.Duration `fig:"retry_delay" default:"2s"`
	Deadline         time.Duration `fig:"deadline" default:"30s"`
	Fallback         bool          `fig:"fallback" default:"true"`
	FallbackDeadline time.Duration `fig:"fallback_deadline" default:"45s"`
}

type Log struct {
	Level  string `fig:"level"`
	Pretty bool   `fig:"pretty"`
}

// Options for loading config with CLI flag overrides. Zero values keep
// whatever the file, env or defaults produced.
type Options struct {
	File       string
	Address    string
	ServerURL  string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	NoFallback bool
	LogLevel   string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (PAIRLINK_*)
// 3. The config file, when one is found
// 4. Struct tag defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{}
	if err := load(cfg, opts.File); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(cfg *Config, file string) error {
	if file != "" {
		return fig.Load(cfg, fig.File(filepath.Base(file)), fig.Dirs(filepath.Dir(file)), fig.UseEnv(EnvPrefix))
	}
	dirs := []string{".", "configs"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".pairlink"))
	}
	err := fig.Load(cfg, fig.File(FileName), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if errors.Is(err, fig.ErrFileNotFound) {
		*cfg = Config{}
		return fig.Load(cfg, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
	}
	return err
}

func (o Options) apply(cfg *Config) {
	if o.Address != "" {
		cfg.Server.Address = o.Address
	}
	if o.ServerURL != "" {
		cfg.Signaling.URL = o.ServerURL
	}
	if o.STUNServer != "" {
		cfg.ICE.STUN = []string{o.STUNServer}
	}
	if o.TURNServer != "" {
		cfg.ICE.TURN = o.TURNServer
	}
	if o.TURNUser != "" {
		cfg.ICE.TURNUser = o.TURNUser
	}
	if o.TURNPass != "" {
		cfg.ICE.TURNPass = o.TURNPass
	}
	if o.ForceRelay {
		cfg.ICE.ForceRelay = true
	}
	if o.NoFallback {
		cfg.Session.Fallback = false
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
}

// Validate rejects combinations the session layer cannot honour.
func (c *Config) Validate() error {
	s := c.Session
	if s.MaxAttempts < 1 {
		return fmt.Errorf("session.max_attempts must be at least 1, got %d", s.MaxAttempts)
	}
	if s.Deadline <= 0 || s.RetryDelay < 0 {
		return fmt.Errorf("session.deadline must be positive and session.retry_delay non-negative")
	}
	if s.Fallback && s.FallbackDeadline < s.Deadline {
		return fmt.Errorf("session.fallback_deadline (%s) must not be shorter than session.deadline (%s)",
			s.FallbackDeadline, s.Deadline)
	}
	if c.ICE.ForceRelay && c.GetTURNServers() == nil {
		return fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	if _, err := url.Parse(c.Signaling.URL); err != nil {
		return fmt.Errorf("signaling.url: %w", err)
	}
	return nil
}

// HTTPBase derives the operational HTTP base URL from the websocket URL.
func (c *Config) HTTPBase() string {
	u, err := url.Parse(c.Signaling.URL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws")
	return strings.TrimSuffix(u.String(), "/")
}

// GetRoomLink returns a shareable link for a room ID.
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("%s/r/%s", c.HTTPBase(), roomID)
}

// GetSTUNServers returns STUN server URLs as strings.
func (c *Config) GetSTUNServers() []string {
	return c.ICE.STUN
}

// GetTURNServers returns TURN server URLs if configured.
func (c *Config) GetTURNServers() []string {
	if c.ICE.TURN == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.ICE.TURN, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.ICE.TURNUser, c.ICE.TURNPass
}
