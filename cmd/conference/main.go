package main

import (
	"os"

	"webrtc_mobile/conference/internal/ui"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "conference",
	Short: "Join a multi-party WebRTC conference from the terminal",
	Long: `conference joins a room on a websocket signaling server and negotiates a
WebRTC link with every other participant. Local video and audio are read from
files; remote video can be recorded to disk.

Configuration is read from flags, then environment variables (a .env file in
the working directory is loaded first), then defaults.`,
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.AddCommand(joinCmd)

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
