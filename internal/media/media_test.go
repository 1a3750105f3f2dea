package media

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

var (
	vp8  = pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000}
	h264 = pion.RTPCodecCapability{MimeType: pion.MimeTypeH264, ClockRate: 90000}
	opus = pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	pcmu = pion.RTPCodecCapability{MimeType: pion.MimeTypePCMU, ClockRate: 8000, Channels: 1}
)

// writeIVF writes a VP8 IVF file with n tiny frames.
func writeIVF(t *testing.T, name string, width, height uint16, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)

	header := make([]byte, 32)
	copy(header[0:], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:], "VP80")
	binary.LittleEndian.PutUint16(header[12:], width)
	binary.LittleEndian.PutUint16(header[14:], height)
	binary.LittleEndian.PutUint32(header[16:], 30)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(n))

	data := header
	for i := 0; i < n; i++ {
		frame := make([]byte, 12)
		binary.LittleEndian.PutUint32(frame[0:], 3)
		binary.LittleEndian.PutUint64(frame[4:], uint64(i))
		data = append(data, frame...)
		data = append(data, 0x10, 0x02, byte(i))
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func acquire(t *testing.T, cfg Config) *Stream {
	t.Helper()
	lm, err := NewSource(cfg).Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s := lm.(*Stream)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAcquire_Errors(t *testing.T) {
	ivf := writeIVF(t, "cam.ivf", 640, 480, 1)

	cases := map[string]struct {
		cfg  Config
		want string
	}{
		"no devices":      {cfg: Config{Video: vp8}, want: "no video device"},
		"missing file":    {cfg: Config{Video: vp8, VideoFiles: []string{"/nonexistent/cam.ivf"}}, want: "open video"},
		"wrong container": {cfg: Config{Video: h264, VideoFiles: []string{ivf}}, want: ".h264"},
		"unknown codec":   {cfg: Config{Video: pion.RTPCodecCapability{MimeType: "video/AV1"}, VideoFiles: []string{ivf}}, want: "no capture support"},
		"pcmu audio file": {cfg: Config{Video: vp8, Audio: pcmu, VideoFiles: []string{ivf}, AudioFile: "a.ogg"}, want: "opus"},
		"missing audio":   {cfg: Config{Video: vp8, Audio: opus, VideoFiles: []string{ivf}, AudioFile: "/nonexistent/a.ogg"}, want: "open audio"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSource(tc.cfg).Acquire(context.Background())
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestAcquire_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{Video: vp8, VideoFiles: []string{writeIVF(t, "cam.ivf", 640, 480, 1)}}
	if _, err := NewSource(cfg).Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStream_Tracks(t *testing.T) {
	s := acquire(t, Config{Video: vp8, VideoFiles: []string{writeIVF(t, "cam.ivf", 640, 480, 1)}})

	tracks := s.LocalTracks()
	if len(tracks) != 1 || tracks[0].Kind() != pion.RTPCodecTypeVideo {
		t.Fatalf("expected one video track, got %v", tracks)
	}
	if s.Preview().SurfaceID() != PreviewID {
		t.Errorf("preview id = %q", s.Preview().SurfaceID())
	}
}

func TestStream_MuteFlags(t *testing.T) {
	s := acquire(t, Config{Video: vp8, VideoFiles: []string{writeIVF(t, "cam.ivf", 640, 480, 1)}})
	preview := s.Preview().(*Preview)

	s.MuteAudio()
	s.MuteVideo()
	s.MuteVideoPreview()
	if !s.AudioMuted() || !s.VideoMuted() || !preview.Muted() {
		t.Error("expected everything muted")
	}

	s.UnmuteAudio()
	s.UnmuteVideo()
	s.UnmuteVideoPreview()
	if s.AudioMuted() || s.VideoMuted() || preview.Muted() {
		t.Error("expected everything unmuted")
	}
}

func TestStream_SetVideoMuted_FlipsTogether(t *testing.T) {
	s := acquire(t, Config{Video: vp8, VideoFiles: []string{writeIVF(t, "cam.ivf", 640, 480, 1)}})
	preview := s.Preview().(*Preview)

	s.MuteAudio()
	s.SetVideoMuted(true)
	if !s.VideoMuted() || !preview.Muted() {
		t.Error("expected video and preview muted")
	}
	if !s.AudioMuted() {
		t.Error("video mute cleared the audio mute")
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.SetVideoMuted(i%2 == 0)
		}
		close(stop)
	}()
	for done := false; !done; {
		select {
		case <-stop:
			done = true
		default:
		}
		m := s.mutes.load()
		if (m&muteVideo != 0) != (m&mutePreview != 0) {
			t.Fatalf("video and preview flags split: %03b", m)
		}
	}
	wg.Wait()
}

func TestStream_PreviewCountsFrames(t *testing.T) {
	s := acquire(t, Config{Video: vp8, FrameRate: 200, VideoFiles: []string{writeIVF(t, "cam.ivf", 640, 480, 2)}})
	preview := s.Preview().(*Preview)

	deadline := time.Now().Add(2 * time.Second)
	// Two frames per file, so reaching five means the file looped.
	for preview.Frames() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("preview saw only %d frames", preview.Frames())
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.MuteVideoPreview()
	time.Sleep(50 * time.Millisecond)
	before := preview.Frames()
	time.Sleep(50 * time.Millisecond)
	if preview.Frames() != before {
		t.Error("muted preview kept counting frames")
	}
}

func TestStream_UseNextVideoDevice(t *testing.T) {
	s := acquire(t, Config{Video: vp8, VideoFiles: []string{
		writeIVF(t, "front.ivf", 640, 480, 1),
		writeIVF(t, "back.ivf", 640, 480, 1),
	}})

	for _, want := range []int{1, 0, 1} {
		got, err := s.UseNextVideoDevice()
		if err != nil {
			t.Fatalf("UseNextVideoDevice: %v", err)
		}
		if got != want {
			t.Errorf("device = %d, want %d", got, want)
		}
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.UseNextVideoDevice(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

type fakeNALs struct {
	nals []*h264reader.NAL
}

func (f *fakeNALs) NextNAL() (*h264reader.NAL, error) {
	if len(f.nals) == 0 {
		return nil, io.EOF
	}
	n := f.nals[0]
	f.nals = f.nals[1:]
	return n, nil
}

func TestH264Frames_GroupsAccessUnits(t *testing.T) {
	src := &fakeNALs{nals: []*h264reader.NAL{
		{UnitType: h264reader.NalUnitTypeSPS, Data: []byte{0x67, 0x01}},
		{UnitType: h264reader.NalUnitTypePPS, Data: []byte{0x68, 0x02}},
		{UnitType: h264reader.NalUnitTypeCodedSliceIdr, Data: []byte{0x65, 0x03}},
		{UnitType: h264reader.NalUnitTypeCodedSliceNonIdr, Data: []byte{0x41, 0x04}},
		{UnitType: h264reader.NalUnitTypeSEI, Data: []byte{0x06, 0x05}},
	}}
	r := &h264Frames{c: io.NopCloser(nil), r: src}

	want := [][]byte{
		{0, 0, 0, 1, 0x67, 0x01, 0, 0, 0, 1, 0x68, 0x02, 0, 0, 0, 1, 0x65, 0x03},
		{0, 0, 0, 1, 0x41, 0x04},
		{0, 0, 0, 1, 0x06, 0x05},
	}
	for i, w := range want {
		got, err := r.next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if string(got) != string(w) {
			t.Errorf("frame %d = %x, want %x", i, got, w)
		}
	}
	if _, err := r.next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
