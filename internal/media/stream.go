package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"webrtc_mobile/conference/internal/domain"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const oggPageDuration = 20 * time.Millisecond

var ErrClosed = errors.New("media stream closed")

// Stream is acquired local media. Muting stops samples from reaching the
// tracks; capture keeps running so unmuting resumes immediately.
type Stream struct {
	cfg Config
	log logging.LeveledLogger

	video   *pion.TrackLocalStaticSample
	audio   *pion.TrackLocalStaticSample
	preview *Preview

	mutes *muteFlags

	mu       sync.Mutex
	device   int
	closed   bool
	switchTo chan int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newStream(cfg Config, log logging.LeveledLogger, video, audio *pion.TrackLocalStaticSample) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	mutes := &muteFlags{}
	s := &Stream{
		cfg:      cfg,
		log:      log,
		video:    video,
		audio:    audio,
		mutes:    mutes,
		preview:  &Preview{mutes: mutes},
		switchTo: make(chan int, 1),
		cancel:   cancel,
	}

	s.wg.Add(1)
	go s.videoLoop(ctx)
	if audio != nil {
		s.wg.Add(1)
		go s.audioLoop(ctx)
	}
	return s
}

// LocalTracks returns the tracks to publish on every link.
func (s *Stream) LocalTracks() []pion.TrackLocal {
	tracks := []pion.TrackLocal{s.video}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	return tracks
}

func (s *Stream) MuteAudio()   { s.mutes.set(muteAudio, true) }
func (s *Stream) UnmuteAudio() { s.mutes.set(muteAudio, false) }
func (s *Stream) MuteVideo()   { s.mutes.set(muteVideo, true) }
func (s *Stream) UnmuteVideo() { s.mutes.set(muteVideo, false) }

func (s *Stream) MuteVideoPreview()   { s.mutes.set(mutePreview, true) }
func (s *Stream) UnmuteVideoPreview() { s.mutes.set(mutePreview, false) }

// SetVideoMuted mutes or unmutes outbound video and the preview in one step.
func (s *Stream) SetVideoMuted(muted bool) {
	s.mutes.set(muteVideo|mutePreview, muted)
}

// AudioMuted reports whether outbound audio is muted.
func (s *Stream) AudioMuted() bool { return s.mutes.load()&muteAudio != 0 }

// VideoMuted reports whether outbound video is muted.
func (s *Stream) VideoMuted() bool { return s.mutes.load()&muteVideo != 0 }

// UseNextVideoDevice moves capture to the next video file, wrapping around.
func (s *Stream) UseNextVideoDevice() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	s.device = (s.device + 1) % len(s.cfg.VideoFiles)

	// Only the latest request matters.
	select {
	case <-s.switchTo:
	default:
	}
	s.switchTo <- s.device

	s.log.Infof("switching to video device %d (%s)", s.device, s.cfg.VideoFiles[s.device])
	return s.device, nil
}

// Preview returns the local preview surface, a *Preview.
func (s *Stream) Preview() domain.Surface {
	return s.preview
}

// Close stops capture. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.Infof("local media released")
	return nil
}

func (s *Stream) videoLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := frameInterval(s.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	device := 0
	var r frameReader
	defer func() {
		if r != nil {
			r.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case device = <-s.switchTo:
			if r != nil {
				r.Close()
				r = nil
			}
			continue
		case <-ticker.C:
		}

		if r == nil {
			var err error
			if r, err = openVideo(s.cfg.VideoFiles[device]); err != nil {
				s.log.Errorf("video device %d: %v", device, err)
				continue
			}
		}

		frame, err := r.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warnf("video device %d: %v", device, err)
			}
			// Loop the file.
			r.Close()
			r = nil
			continue
		}

		mutes := s.mutes.load()
		if mutes&mutePreview == 0 {
			s.preview.frames.Add(1)
		}
		if mutes&muteVideo != 0 {
			continue
		}
		if err := s.video.WriteSample(pionmedia.Sample{Data: frame, Duration: interval}); err != nil {
			s.log.Warnf("write video sample: %v", err)
		}
	}
}

type oggPages struct {
	f           *os.File
	r           *oggreader.OggReader
	lastGranule uint64
}

func openAudio(path string) (*oggPages, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio %s: %w", path, err)
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ogg header %s: %w", path, err)
	}
	return &oggPages{f: f, r: r}, nil
}

// next returns the next page and its duration at 48 kHz.
func (o *oggPages) next() ([]byte, time.Duration, error) {
	page, header, err := o.r.ParseNextPage()
	if err != nil {
		return nil, 0, err
	}
	samples := header.GranulePosition - o.lastGranule
	o.lastGranule = header.GranulePosition
	return page, time.Duration(samples) * time.Second / 48000, nil
}

func (o *oggPages) Close() error { return o.f.Close() }

func (s *Stream) audioLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var r *oggPages
	defer func() {
		if r != nil {
			r.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if r == nil {
			var err error
			if r, err = openAudio(s.cfg.AudioFile); err != nil {
				s.log.Errorf("audio: %v", err)
				continue
			}
		}

		page, duration, err := r.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warnf("audio: %v", err)
			}
			r.Close()
			r = nil
			continue
		}

		if s.mutes.load()&muteAudio != 0 {
			continue
		}
		if err := s.audio.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			s.log.Warnf("write audio sample: %v", err)
		}
	}
}
