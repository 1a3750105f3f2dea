package webrtc

import (
	"fmt"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	pion "github.com/pion/webrtc/v4"
)

// Codec ids accepted in CodecPreferences.
const (
	CodecOpus = "opus"
	CodecPCMU = "pcmu"
	CodecVP8  = "vp8"
	CodecH264 = "h264"
)

// CodecPreferences names the one audio and one video codec to negotiate.
type CodecPreferences struct {
	Audio string
	Video string
}

var videoFeedback = []pion.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

var audioCodecs = map[string]pion.RTPCodecParameters{
	CodecOpus: {
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	},
	CodecPCMU: {
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:  pion.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
		PayloadType: 0,
	},
}

var videoCodecs = map[string]pion.RTPCodecParameters{
	CodecVP8: {
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:     pion.MimeTypeVP8,
			ClockRate:    90000,
			RTCPFeedback: videoFeedback,
		},
		PayloadType: 96,
	},
	CodecH264: {
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:     pion.MimeTypeH264,
			ClockRate:    90000,
			SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			RTCPFeedback: videoFeedback,
		},
		PayloadType: 125,
	},
}

// Capabilities is the registered codec set. It must be created before any
// Engine and is not modified afterwards.
type Capabilities struct {
	media        *pion.MediaEngine
	interceptors *interceptor.Registry
	audio        pion.RTPCodecParameters
	video        pion.RTPCodecParameters
}

// NewCapabilities registers exactly one audio and one video codec together
// with the NACK and RTCP report interceptors.
func NewCapabilities(prefs CodecPreferences) (*Capabilities, error) {
	audio, ok := audioCodecs[strings.ToLower(prefs.Audio)]
	if !ok {
		return nil, fmt.Errorf("unsupported audio codec %q", prefs.Audio)
	}
	video, ok := videoCodecs[strings.ToLower(prefs.Video)]
	if !ok {
		return nil, fmt.Errorf("unsupported video codec %q", prefs.Video)
	}

	m := &pion.MediaEngine{}
	if err := m.RegisterCodec(audio, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register %s: %w", audio.MimeType, err)
	}
	if err := m.RegisterCodec(video, pion.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register %s: %w", video.MimeType, err)
	}

	i := &interceptor.Registry{}

	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responder)

	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)

	receiver, err := report.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create receiver report: %w", err)
	}
	i.Add(receiver)

	sender, err := report.NewSenderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create sender report: %w", err)
	}
	i.Add(sender)

	return &Capabilities{
		media:        m,
		interceptors: i,
		audio:        audio,
		video:        video,
	}, nil
}

// Audio returns the registered audio codec.
func (c *Capabilities) Audio() pion.RTPCodecCapability {
	return c.audio.RTPCodecCapability
}

// Video returns the registered video codec.
func (c *Capabilities) Video() pion.RTPCodecCapability {
	return c.video.RTPCodecCapability
}
