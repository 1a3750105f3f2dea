package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Defaults for the public demo relay and a 640x480@15 capture.
const (
	DefaultSignalURL  = "ws://localhost:8080/ws"
	DefaultRelayHost  = "demo.icelink.fm:3478"
	DefaultRelayUser  = "test"
	DefaultRelayPass  = "pa55word!"
	DefaultAudioCodec = "opus"
	DefaultVideoCodec = "vp8"
	DefaultWidth      = 640
	DefaultHeight     = 480
	DefaultFrameRate  = 15
	DefaultEncoding   = "json"
	DefaultLogLevel   = "error"
)

// Config holds the process-wide configuration. It is loaded once at startup.
type Config struct {
	SignalURL      string
	CredentialsURL string

	// RelayHost is host:port of the STUN/TURN server.
	RelayHost string
	RelayUser string
	RelayPass string

	AudioCodec string
	VideoCodec string

	// Capture targets.
	VideoWidth  int
	VideoHeight int
	FrameRate   int

	AudioFile  string
	VideoFiles []string

	RecordDir string
	Encoding  string
	LogLevel  string
}

// Options carries CLI flag overrides. Zero values mean "not set".
type Options struct {
	SignalURL      string
	CredentialsURL string
	RelayHost      string
	RelayUser      string
	RelayPass      string
	AudioCodec     string
	VideoCodec     string
	AudioFile      string
	VideoFiles     []string
	RecordDir      string
	Encoding       string
	LogLevel       string
}

// Load resolves configuration with the following priority:
// 1. CLI flags (Options)
// 2. Environment variables (a .env file is loaded first and never
// overrides variables that are already set)
// 3. Defaults
func Load(opts Options) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		SignalURL:      pick(opts.SignalURL, "SIGNAL_URL", DefaultSignalURL),
		CredentialsURL: pick(opts.CredentialsURL, "CREDENTIALS_URL", ""),
		RelayHost:      pick(opts.RelayHost, "RELAY_HOST", DefaultRelayHost),
		RelayUser:      pick(opts.RelayUser, "RELAY_USERNAME", DefaultRelayUser),
		RelayPass:      pick(opts.RelayPass, "RELAY_PASSWORD", DefaultRelayPass),
		AudioCodec:     pick(opts.AudioCodec, "AUDIO_CODEC", DefaultAudioCodec),
		VideoCodec:     pick(opts.VideoCodec, "VIDEO_CODEC", DefaultVideoCodec),
		AudioFile:      pick(opts.AudioFile, "AUDIO_FILE", ""),
		RecordDir:      pick(opts.RecordDir, "RECORD_DIR", ""),
		Encoding:       pick(opts.Encoding, "SIGNAL_ENCODING", DefaultEncoding),
		LogLevel:       pick(opts.LogLevel, "LOG_LEVEL", DefaultLogLevel),
		VideoFiles:     opts.VideoFiles,
	}

	if len(cfg.VideoFiles) == 0 {
		cfg.VideoFiles = splitList(os.Getenv("VIDEO_FILES"))
	}

	var err error
	if cfg.VideoWidth, err = intEnv("VIDEO_WIDTH", DefaultWidth); err != nil {
		return nil, err
	}
	if cfg.VideoHeight, err = intEnv("VIDEO_HEIGHT", DefaultHeight); err != nil {
		return nil, err
	}
	if cfg.FrameRate, err = intEnv("VIDEO_FPS", DefaultFrameRate); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields Load cannot default.
func (c *Config) Validate() error {
	if len(c.VideoFiles) == 0 {
		return fmt.Errorf("at least one video source is required (VIDEO_FILES or --video)")
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("VIDEO_FPS must be positive, got %d", c.FrameRate)
	}
	if c.VideoWidth <= 0 || c.VideoHeight <= 0 {
		return fmt.Errorf("invalid capture resolution %dx%d", c.VideoWidth, c.VideoHeight)
	}
	if c.RelayHost != "" {
		if _, _, err := net.SplitHostPort(c.RelayHost); err != nil {
			return fmt.Errorf("RELAY_HOST must be host:port: %w", err)
		}
	}
	return nil
}

// RelayURLs returns the STUN and TURN URLs for RelayHost.
func (c *Config) RelayURLs() []string {
	if c.RelayHost == "" {
		return nil
	}
	return []string{
		"stun:" + c.RelayHost,
		fmt.Sprintf("turn:%s?transport=udp", c.RelayHost),
		fmt.Sprintf("turn:%s?transport=tcp", c.RelayHost),
	}
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

func intEnv(env string, def int) (int, error) {
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", env, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
