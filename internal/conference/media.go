package conference

// MediaState is the local mute and camera state. PreviewMuted always
// equals VideoMuted once ToggleMuteVideo returns.
type MediaState struct {
	AudioMuted   bool
	VideoMuted   bool
	PreviewMuted bool
	VideoDevice  int
}

// videoMuteSetter is local media that flips outbound video and the preview
// in a single step.
type videoMuteSetter interface {
	SetVideoMuted(muted bool)
}

// ToggleMute flips the local audio mute. No-op without a conference.
func (o *Orchestrator) ToggleMute() {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := o.conf
	if c == nil {
		return
	}
	c.state.AudioMuted = !c.state.AudioMuted
	if c.state.AudioMuted {
		c.media.MuteAudio()
	} else {
		c.media.UnmuteAudio()
	}
	o.log.Infof("audio muted=%t", c.state.AudioMuted)
}

// ToggleMuteVideo flips the outbound video and the local preview together.
// No-op without a conference.
func (o *Orchestrator) ToggleMuteVideo() {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := o.conf
	if c == nil {
		return
	}
	muted := !c.state.VideoMuted
	switch m := c.media.(type) {
	case videoMuteSetter:
		m.SetVideoMuted(muted)
	default:
		if muted {
			c.media.MuteVideo()
			c.media.MuteVideoPreview()
		} else {
			c.media.UnmuteVideo()
			c.media.UnmuteVideoPreview()
		}
	}
	c.state.VideoMuted = muted
	c.state.PreviewMuted = muted
	o.log.Infof("video muted=%t", muted)
}

// SwitchCamera moves capture to the next video device. Peer links are not
// renegotiated here. No-op without a conference.
func (o *Orchestrator) SwitchCamera() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := o.conf
	if c == nil {
		return nil
	}
	idx, err := c.media.UseNextVideoDevice()
	if err != nil {
		return newError("switch camera", err)
	}
	c.state.VideoDevice = idx
	o.log.Infof("video device %d", idx)
	return nil
}

// MediaState returns the local media state and whether a conference exists.
func (o *Orchestrator) MediaState() (MediaState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.conf == nil {
		return MediaState{}, false
	}
	return o.conf.state, true
}
