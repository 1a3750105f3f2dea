package presentation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"webrtc_mobile/conference/internal/domain"
	"webrtc_mobile/conference/internal/logger"

	"github.com/pion/logging"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// RTPSource is a surface whose video can be read packet by packet.
type RTPSource interface {
	domain.Surface
	// ReadRTP blocks for the next packet and returns io.EOF when the video ends.
	ReadRTP() (*rtp.Packet, error)
	MimeType() string
}

// Config configures a Recorder.
type Config struct {
	// Dir receives one file per remote peer. Empty disables recording.
	Dir           string
	LoggerFactory logging.LoggerFactory
}

// Recorder is a PresentationSink that writes each remote video to disk:
// VP8 as <peer>.ivf and H264 as an Annex-B <peer>.h264 stream.
type Recorder struct {
	dir string
	log logging.LeveledLogger

	mu       sync.Mutex
	surfaces map[string]*recording
	local    domain.Surface
	closed   bool
	wg       sync.WaitGroup
}

type recording struct {
	surface domain.Surface
	mu      sync.Mutex
	stopped bool
}

func (r *recording) stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

func (r *recording) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// NewRecorder creates a recorder. The directory is created if needed.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create record dir: %w", err)
		}
	}
	return &Recorder{
		dir:      cfg.Dir,
		log:      logger.Scoped(cfg.LoggerFactory, "presentation"),
		surfaces: make(map[string]*recording),
	}, nil
}

// SetLocalSurface records which surface is the local preview.
func (r *Recorder) SetLocalSurface(surface domain.Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = surface
	r.log.Infof("local preview %s attached", surface.SurfaceID())
}

// AddSurface starts rendering a peer's video, replacing any previous surface
// for the same peer.
func (r *Recorder) AddSurface(peerID string, surface domain.Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if old, ok := r.surfaces[peerID]; ok {
		old.stop()
	}

	rec := &recording{surface: surface}
	r.surfaces[peerID] = rec
	r.log.Infof("surface added for %s", peerID)

	src, ok := surface.(RTPSource)
	if r.dir == "" || !ok {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.record(peerID, src, rec); err != nil {
			r.log.Warnf("record %s: %v", peerID, err)
		}
	}()
}

// RemoveSurface stops rendering a peer's video. Unknown peers are ignored.
func (r *Recorder) RemoveSurface(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.surfaces[peerID]
	if !ok {
		return
	}
	rec.stop()
	delete(r.surfaces, peerID)
	r.log.Infof("surface removed for %s", peerID)
}

// Surfaces returns the ids of the peers currently shown, sorted.
func (r *Recorder) Surfaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.surfaces))
	for id := range r.surfaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Local returns the local preview surface, or nil.
func (r *Recorder) Local() domain.Surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

// Close stops every recording and waits for the files to be flushed. The
// sources must end on their own, which happens once their links are closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	for id, rec := range r.surfaces {
		rec.stop()
		delete(r.surfaces, id)
	}
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

type rtpWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

func (r *Recorder) record(peerID string, src RTPSource, rec *recording) error {
	pkt, err := src.ReadRTP()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	w, err := r.newWriter(peerID, src.MimeType())
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			r.log.Warnf("close recording for %s: %v", peerID, err)
		}
	}()

	for {
		if rec.isStopped() {
			return nil
		}
		if err := w.WriteRTP(pkt); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if pkt, err = src.ReadRTP(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (r *Recorder) newWriter(peerID, mimeType string) (rtpWriter, error) {
	base := filepath.Join(r.dir, fileName(peerID))

	switch {
	case strings.EqualFold(mimeType, pion.MimeTypeVP8):
		w, err := ivfwriter.New(base + ".ivf")
		if err != nil {
			return nil, fmt.Errorf("create ivf writer: %w", err)
		}
		return w, nil

	case strings.EqualFold(mimeType, pion.MimeTypeH264):
		f, err := os.Create(base + ".h264")
		if err != nil {
			return nil, fmt.Errorf("create h264 file: %w", err)
		}
		return &annexBWriter{f: f, w: bufio.NewWriter(f), depack: NewH264Depacketizer()}, nil

	default:
		return nil, fmt.Errorf("cannot record %q", mimeType)
	}
}

// annexBWriter writes depacketized H264 NAL units with start codes.
type annexBWriter struct {
	f      *os.File
	w      *bufio.Writer
	depack *H264Depacketizer
}

func (a *annexBWriter) WriteRTP(pkt *rtp.Packet) error {
	for _, nalu := range a.depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
		if len(nalu) == 0 {
			continue
		}
		if _, err := a.w.Write(annexBStartCode); err != nil {
			return err
		}
		if _, err := a.w.Write(nalu); err != nil {
			return err
		}
	}
	return nil
}

func (a *annexBWriter) Close() error {
	if err := a.w.Flush(); err != nil {
		a.f.Close()
		return err
	}
	return a.f.Close()
}

// fileName keeps peer ids from escaping the record directory.
func fileName(peerID string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, peerID)
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return name
}
