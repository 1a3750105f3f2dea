package main

import (
	"context"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"syscall"

	"webrtc_mobile/conference/internal/api"
	"webrtc_mobile/conference/internal/conference"
	"webrtc_mobile/conference/internal/config"
	"webrtc_mobile/conference/internal/domain"
	"webrtc_mobile/conference/internal/logger"
	"webrtc_mobile/conference/internal/media"
	"webrtc_mobile/conference/internal/presentation"
	sigclient "webrtc_mobile/conference/internal/signal"
	"webrtc_mobile/conference/internal/ui"
	"webrtc_mobile/conference/internal/webrtc"
	"webrtc_mobile/conference/internal/wire"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

var (
	flags   config.Options
	noUI    bool
	logFile string
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a conference room",
	Long: `Join a conference room and stay until interrupted.

Examples:
  conference join lobby --video front.ivf,back.ivf --audio mic.ogg
  conference join lobby --video cam.h264 --video-codec h264 --record ./out
  SIGNAL_URL=wss://signal.example.com/ws conference join lobby --no-ui`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return join(args[0])
	},
}

func init() {
	f := joinCmd.Flags()
	f.StringVar(&flags.SignalURL, "signal", "", "signaling websocket URL (SIGNAL_URL)")
	f.StringVar(&flags.CredentialsURL, "credentials", "", "relay credentials endpoint (CREDENTIALS_URL)")
	f.StringVar(&flags.RelayHost, "relay", "", "STUN/TURN host:port (RELAY_HOST)")
	f.StringVar(&flags.RelayUser, "relay-user", "", "TURN username (RELAY_USERNAME)")
	f.StringVar(&flags.RelayPass, "relay-pass", "", "TURN password (RELAY_PASSWORD)")
	f.StringVar(&flags.AudioCodec, "audio-codec", "", "opus or pcmu (AUDIO_CODEC)")
	f.StringVar(&flags.VideoCodec, "video-codec", "", "vp8 or h264 (VIDEO_CODEC)")
	f.StringVar(&flags.AudioFile, "audio", "", "Ogg/Opus file used as microphone (AUDIO_FILE)")
	f.StringSliceVar(&flags.VideoFiles, "video", nil, "video files used as cameras, in switching order (VIDEO_FILES)")
	f.StringVar(&flags.RecordDir, "record", "", "directory for remote video recordings (RECORD_DIR)")
	f.StringVar(&flags.Encoding, "encoding", "", "signaling payload encoding: json or msgpack (SIGNAL_ENCODING)")
	f.StringVar(&flags.LogLevel, "log-level", "", "trace, debug, info, warn, error or off (LOG_LEVEL)")
	f.StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	f.BoolVar(&noUI, "no-ui", false, "print status lines instead of the control panel")
}

func join(room string) error {
	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}

	logOut, closeLog, err := logOutput(!noUI)
	if err != nil {
		return err
	}
	defer closeLog()
	lf := logger.NewFactory(cfg.LogLevel, logOut)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	caps, err := webrtc.NewCapabilities(webrtc.CodecPreferences{Audio: cfg.AudioCodec, Video: cfg.VideoCodec})
	if err != nil {
		return err
	}

	codec, err := wire.ForName(cfg.Encoding)
	if err != nil {
		return err
	}

	relay, err := resolveRelay(ctx, cfg, room, lf)
	if err != nil {
		return err
	}

	recorder, err := presentation.NewRecorder(presentation.Config{Dir: cfg.RecordDir, LoggerFactory: lf})
	if err != nil {
		return err
	}
	defer recorder.Close()

	orch := conference.New(conference.Config{
		Engine: webrtc.NewEngine(caps, webrtc.EngineConfig{LoggerFactory: lf}),
		Media: media.NewSource(media.Config{
			VideoFiles:    cfg.VideoFiles,
			AudioFile:     cfg.AudioFile,
			Video:         caps.Video(),
			Audio:         caps.Audio(),
			Width:         cfg.VideoWidth,
			Height:        cfg.VideoHeight,
			FrameRate:     cfg.FrameRate,
			LoggerFactory: lf,
		}),
		Sink:          recorder,
		Codec:         codec,
		Relay:         relay,
		LoggerFactory: lf,
	})
	defer orch.Shutdown()

	sc := sigclient.NewClient(sigclient.Config{URL: cfg.SignalURL, LoggerFactory: lf}, orch)
	orch.SetSignaler(sc)

	if noUI {
		fmt.Printf("joining %q via %s as %s\n", room, cfg.SignalURL, sc.ClientID())
		if err := orch.Start(ctx, room); err != nil {
			return fmt.Errorf("start conference: %w", err)
		}
		ui.PrintSuccessf("joined %q, press Ctrl+C to leave", room)
		<-ctx.Done()
		return nil
	}

	started := make(chan error, 1)
	go func() { started <- orch.Start(ctx, room) }()

	// A failed start closes the panel.
	uiCtx, cancelUI := context.WithCancel(ctx)
	defer cancelUI()
	failed := make(chan error, 1)
	go func() {
		if err := <-started; err != nil {
			failed <- err
			cancelUI()
		}
	}()

	if err := ui.Run(uiCtx, orch); err != nil {
		return err
	}
	select {
	case err := <-failed:
		if ctx.Err() == nil {
			return fmt.Errorf("start conference: %w", err)
		}
	default:
	}
	return nil
}

// resolveRelay prefers credentials from the API when an endpoint is configured.
func resolveRelay(ctx context.Context, cfg *config.Config, room string, lf logging.LoggerFactory) (domain.RelayConfig, error) {
	if cfg.CredentialsURL == "" {
		return domain.RelayConfig{
			URLs:     cfg.RelayURLs(),
			Username: cfg.RelayUser,
			Password: cfg.RelayPass,
		}, nil
	}

	relay, err := api.NewClient(cfg.CredentialsURL, nil, lf).FetchRelay(ctx, room)
	if err != nil {
		return domain.RelayConfig{}, fmt.Errorf("fetch relay credentials: %w", err)
	}
	return *relay, nil
}

// logOutput keeps logs off the terminal while the control panel owns it.
func logOutput(panel bool) (io.Writer, func(), error) {
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, func() { f.Close() }, nil
	}
	if panel {
		return io.Discard, func() {}, nil
	}
	return os.Stderr, func() {}, nil
}
