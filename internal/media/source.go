package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"webrtc_mobile/conference/internal/domain"
	"webrtc_mobile/conference/internal/logger"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
)

const streamID = "conference-local"

var ErrNoVideo = errors.New("no video device")

// Config describes the capture devices backing a Source.
type Config struct {
	// VideoFiles are the camera devices, in switching order.
	VideoFiles []string
	// AudioFile is an Ogg/Opus file. Empty means no outbound audio.
	AudioFile string

	Video pion.RTPCodecCapability
	Audio pion.RTPCodecCapability

	Width     int
	Height    int
	FrameRate int

	LoggerFactory logging.LoggerFactory
}

// Source acquires file-backed local media. It implements domain.MediaSource.
type Source struct {
	cfg Config
	log logging.LeveledLogger
}

// NewSource creates a media source.
func NewSource(cfg Config) *Source {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 15
	}
	return &Source{cfg: cfg, log: logger.Scoped(cfg.LoggerFactory, "media")}
}

// Acquire checks every device and starts capture.
func (s *Source) Acquire(ctx context.Context) (domain.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.cfg.VideoFiles) == 0 {
		return nil, ErrNoVideo
	}

	for _, path := range s.cfg.VideoFiles {
		if err := s.checkVideo(path); err != nil {
			return nil, err
		}
	}
	if s.cfg.AudioFile != "" {
		if err := s.checkAudio(s.cfg.AudioFile); err != nil {
			return nil, err
		}
	}

	video, err := pion.NewTrackLocalStaticSample(s.cfg.Video, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	var audio *pion.TrackLocalStaticSample
	if s.cfg.AudioFile != "" {
		audio, err = pion.NewTrackLocalStaticSample(s.cfg.Audio, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.log.Infof("acquired %d video device(s), audio=%t", len(s.cfg.VideoFiles), audio != nil)
	return newStream(s.cfg, s.log, video, audio), nil
}

func (s *Source) checkVideo(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch s.cfg.Video.MimeType {
	case pion.MimeTypeVP8:
		if ext != ".ivf" {
			return fmt.Errorf("%s: VP8 capture needs an .ivf file", path)
		}
	case pion.MimeTypeH264:
		if ext != ".h264" && ext != ".264" {
			return fmt.Errorf("%s: H264 capture needs an Annex-B .h264 file", path)
		}
	default:
		return fmt.Errorf("no capture support for %s", s.cfg.Video.MimeType)
	}

	r, err := openVideo(path)
	if err != nil {
		return err
	}
	defer r.Close()

	if ivf, ok := r.(*ivfFrames); ok && s.cfg.Width > 0 &&
		(ivf.width != s.cfg.Width || ivf.height != s.cfg.Height) {
		s.log.Warnf("%s is %dx%d, capture target is %dx%d", path, ivf.width, ivf.height, s.cfg.Width, s.cfg.Height)
	}
	return nil
}

func (s *Source) checkAudio(path string) error {
	if s.cfg.Audio.MimeType != pion.MimeTypeOpus {
		return fmt.Errorf("%s: file audio needs the opus codec, have %s", path, s.cfg.Audio.MimeType)
	}
	r, err := openAudio(path)
	if err != nil {
		return err
	}
	return r.Close()
}

func frameInterval(fps int) time.Duration {
	return time.Second / time.Duration(fps)
}
