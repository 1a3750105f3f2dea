package webrtc

import (
	"strings"
	"testing"

	pion "github.com/pion/webrtc/v4"
)

func TestNewCapabilities(t *testing.T) {
	cases := []struct {
		prefs     CodecPreferences
		wantAudio string
		wantVideo string
	}{
		{CodecPreferences{Audio: "opus", Video: "vp8"}, pion.MimeTypeOpus, pion.MimeTypeVP8},
		{CodecPreferences{Audio: "PCMU", Video: "H264"}, pion.MimeTypePCMU, pion.MimeTypeH264},
	}
	for _, tc := range cases {
		caps, err := NewCapabilities(tc.prefs)
		if err != nil {
			t.Fatalf("NewCapabilities(%+v): %v", tc.prefs, err)
		}
		if got := caps.Audio().MimeType; got != tc.wantAudio {
			t.Errorf("audio = %s, want %s", got, tc.wantAudio)
		}
		if got := caps.Video().MimeType; got != tc.wantVideo {
			t.Errorf("video = %s, want %s", got, tc.wantVideo)
		}
	}
}

func TestNewCapabilities_Opus(t *testing.T) {
	caps, err := NewCapabilities(CodecPreferences{Audio: CodecOpus, Video: CodecVP8})
	if err != nil {
		t.Fatal(err)
	}
	if a := caps.Audio(); a.ClockRate != 48000 || a.Channels != 2 {
		t.Errorf("expected 48kHz stereo opus, got %+v", a)
	}
}

func TestNewCapabilities_Unsupported(t *testing.T) {
	if _, err := NewCapabilities(CodecPreferences{Audio: "aac", Video: "vp8"}); err == nil || !strings.Contains(err.Error(), "audio") {
		t.Errorf("expected audio codec error, got %v", err)
	}
	if _, err := NewCapabilities(CodecPreferences{Audio: "opus", Video: "av2"}); err == nil || !strings.Contains(err.Error(), "video") {
		t.Errorf("expected video codec error, got %v", err)
	}
}
