package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Default client configuration values.
const (
	DefaultServerURL = "ws://localhost:3001/ws"
	DefaultWebURL    = "http://localhost:3000"
	DefaultName      = "Guest"
	DefaultCodec     = "msgpack"
)

// DefaultSTUN lists the public STUN servers used when none are configured.
var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Config holds the terminal client's configuration.
type Config struct {
	// ServerURL is the signaling websocket endpoint.
	ServerURL string

	// WebURL is where browser guests open a party link.
	WebURL string

	// Name is the display name announced to the room.
	Name string

	// Codec is "json" or "msgpack".
	Codec string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string

	// ForceRelay restricts ICE to TURN relay candidates.
	ForceRelay bool
}

// Options carries CLI flag overrides. Empty values fall through to the
// environment and then to defaults.
type Options struct {
	ServerURL   string
	WebURL      string
	Name        string
	Codec       string
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		ServerURL:  pick(opts.ServerURL, "DENDAY_SERVER", DefaultServerURL),
		WebURL:     strings.TrimRight(pick(opts.WebURL, "DENDAY_WEB_URL", DefaultWebURL), "/"),
		Name:       pick(opts.Name, "DENDAY_NAME", ""),
		Codec:      strings.ToLower(pick(opts.Codec, "DENDAY_CODEC", DefaultCodec)),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay || envBool("FORCE_RELAY"),
	}

	if cfg.Name == "" {
		cfg.Name = os.Getenv("USER")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	switch {
	case len(opts.STUNServers) > 0:
		cfg.STUNServers = opts.STUNServers
	case os.Getenv("STUN_SERVERS") != "":
		cfg.STUNServers = splitCSV(os.Getenv("STUN_SERVERS"))
	default:
		cfg.STUNServers = append([]string(nil), DefaultSTUN...)
	}

	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", cfg.ServerURL)
	}
	if cfg.Codec != "json" && cfg.Codec != "msgpack" {
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}
	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("relay-only mode needs a TURN server")
	}

	return cfg, nil
}

// HTTPBaseURL is the signaling server's plain HTTP origin, used for the
// room lookup endpoint.
func (c *Config) HTTPBaseURL() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "wss" {
		u.Scheme = "https"
	} else {
		u.Scheme = "http"
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String()
}

// RoomLink returns the browser link for a room code.
func (c *Config) RoomLink(code string) string {
	return fmt.Sprintf("%s/party/%s", c.WebURL, code)
}

// GetSTUNServers returns STUN server URLs
func (c *Config) GetSTUNServers() []string {
	return c.STUNServers
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.Contains(c.TURNServer, "?transport=") {
		return []string{c.TURNServer}
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
