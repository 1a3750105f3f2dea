package media

import "sync/atomic"

// PreviewID is the surface id of the local preview.
const PreviewID = "local"

const (
	muteAudio uint32 = 1 << iota
	muteVideo
	mutePreview
)

// muteFlags holds every mute bit in one word so readers see a consistent set.
type muteFlags struct {
	v atomic.Uint32
}

func (m *muteFlags) load() uint32 { return m.v.Load() }

func (m *muteFlags) set(bits uint32, on bool) {
	for {
		old := m.v.Load()
		next := old &^ bits
		if on {
			next = old | bits
		}
		if m.v.CompareAndSwap(old, next) {
			return
		}
	}
}

// Preview is the local camera preview. It counts the frames it would show.
type Preview struct {
	mutes  *muteFlags
	frames atomic.Uint64
}

func (p *Preview) SurfaceID() string { return PreviewID }

// Muted reports whether the preview is hidden.
func (p *Preview) Muted() bool { return p.mutes.load()&mutePreview != 0 }

// Frames returns the number of frames shown so far.
func (p *Preview) Frames() uint64 { return p.frames.Load() }
