package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// frameReader yields one encoded video frame per call and io.EOF at the end.
type frameReader interface {
	next() ([]byte, error)
	Close() error
}

// openVideo opens a capture file. IVF files carry VP8, raw Annex-B files H264.
func openVideo(path string) (frameReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ivf":
		r, header, err := ivfreader.NewWith(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read ivf header %s: %w", path, err)
		}
		return &ivfFrames{f: f, r: r, width: int(header.Width), height: int(header.Height)}, nil

	case ".h264", ".264":
		r, err := h264reader.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read h264 %s: %w", path, err)
		}
		return &h264Frames{c: f, r: r}, nil

	default:
		f.Close()
		return nil, fmt.Errorf("unsupported video container %q", filepath.Ext(path))
	}
}

type ivfFrames struct {
	f      *os.File
	r      *ivfreader.IVFReader
	width  int
	height int
}

func (v *ivfFrames) next() ([]byte, error) {
	frame, _, err := v.r.ParseNextFrame()
	return frame, err
}

func (v *ivfFrames) Close() error { return v.f.Close() }

type nalSource interface {
	NextNAL() (*h264reader.NAL, error)
}

// h264Frames groups NAL units into access units ending at a coded slice, in
// Annex-B form.
type h264Frames struct {
	c io.Closer
	r nalSource
}

func (h *h264Frames) next() ([]byte, error) {
	var frame []byte
	for {
		nal, err := h.r.NextNAL()
		if err != nil {
			if errors.Is(err, io.EOF) && len(frame) > 0 {
				return frame, nil
			}
			return nil, err
		}

		frame = append(frame, annexBStartCode...)
		frame = append(frame, nal.Data...)

		switch nal.UnitType {
		case h264reader.NalUnitTypeCodedSliceNonIdr, h264reader.NalUnitTypeCodedSliceIdr:
			return frame, nil
		}
	}
}

func (h *h264Frames) Close() error { return h.c.Close() }
