package config

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SIGNAL_URL", "CREDENTIALS_URL", "RELAY_HOST", "RELAY_USERNAME", "RELAY_PASSWORD",
		"AUDIO_CODEC", "VIDEO_CODEC", "AUDIO_FILE", "VIDEO_FILES", "RECORD_DIR",
		"SIGNAL_ENCODING", "LOG_LEVEL", "VIDEO_WIDTH", "VIDEO_HEIGHT", "VIDEO_FPS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{VideoFiles: []string{"cam.ivf"}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := &Config{
		SignalURL:   DefaultSignalURL,
		RelayHost:   DefaultRelayHost,
		RelayUser:   DefaultRelayUser,
		RelayPass:   DefaultRelayPass,
		AudioCodec:  DefaultAudioCodec,
		VideoCodec:  DefaultVideoCodec,
		VideoWidth:  DefaultWidth,
		VideoHeight: DefaultHeight,
		FrameRate:   DefaultFrameRate,
		VideoFiles:  []string{"cam.ivf"},
		Encoding:    DefaultEncoding,
		LogLevel:    DefaultLogLevel,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvAndFlagPriority(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGNAL_URL", "wss://env.example/ws")
	t.Setenv("RELAY_HOST", "relay.env:3478")
	t.Setenv("VIDEO_FILES", "front.ivf, back.ivf ,")
	t.Setenv("VIDEO_FPS", "30")

	cfg, err := Load(Options{RelayHost: "relay.flag:5349"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SignalURL != "wss://env.example/ws" {
		t.Errorf("SignalURL = %q", cfg.SignalURL)
	}
	if cfg.RelayHost != "relay.flag:5349" {
		t.Errorf("flag should win over env, got %q", cfg.RelayHost)
	}
	if diff := cmp.Diff([]string{"front.ivf", "back.ivf"}, cfg.VideoFiles); diff != "" {
		t.Errorf("VideoFiles (-want +got):\n%s", diff)
	}
	if cfg.FrameRate != 30 {
		t.Errorf("FrameRate = %d", cfg.FrameRate)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]struct {
		env  map[string]string
		opts Options
		want string
	}{
		"no video":  {opts: Options{}, want: "video source"},
		"bad fps":   {env: map[string]string{"VIDEO_FPS": "fast"}, opts: Options{VideoFiles: []string{"a.ivf"}}, want: "VIDEO_FPS"},
		"zero fps":  {env: map[string]string{"VIDEO_FPS": "0"}, opts: Options{VideoFiles: []string{"a.ivf"}}, want: "positive"},
		"bad relay": {opts: Options{VideoFiles: []string{"a.ivf"}, RelayHost: "no-port"}, want: "host:port"},
		"bad width": {env: map[string]string{"VIDEO_WIDTH": "-1"}, opts: Options{VideoFiles: []string{"a.ivf"}}, want: "resolution"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load(tc.opts)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRelayURLs(t *testing.T) {
	cfg := &Config{RelayHost: "relay.test:3478"}
	want := []string{
		"stun:relay.test:3478",
		"turn:relay.test:3478?transport=udp",
		"turn:relay.test:3478?transport=tcp",
	}
	if diff := cmp.Diff(want, cfg.RelayURLs()); diff != "" {
		t.Errorf("RelayURLs (-want +got):\n%s", diff)
	}
	if (&Config{}).RelayURLs() != nil {
		t.Error("expected nil URLs without a relay host")
	}
}
