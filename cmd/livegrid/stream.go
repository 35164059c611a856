package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Spatial-NVR/livegrid/internal/camera"
	"github.com/Spatial-NVR/livegrid/internal/control"
)

var (
	streamFPS        int
	streamResolution string
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Start, stop and inspect camera streams",
}

// notifyStdout prints command outcomes the way the dashboard shows them
var notifyStdout = control.NotifierFunc(func(n control.Notification) {
	if jsonOutput {
		return
	}
	mark := "ok"
	if n.Level == control.LevelError {
		mark = "error"
	}
	fmt.Printf("[%s] %s: %s\n", mark, n.CameraID, n.Message)
})

var streamStartCmd = &cobra.Command{
	Use:   "start <id>...",
	Short: "Start streams",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg *camera.StreamConfig
		if streamFPS > 0 || streamResolution != "" {
			cfg = &camera.StreamConfig{FPS: streamFPS, Resolution: streamResolution}
		}
		coord := control.New(newClient(), control.WithNotifier(notifyStdout))
		_, err := coord.StartSelected(cmd.Context(), args, cfg)
		return commandResult(err)
	},
}

var streamStopCmd = &cobra.Command{
	Use:   "stop <id>...",
	Short: "Stop streams",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord := control.New(newClient(), control.WithNotifier(notifyStdout))
		return commandResult(coord.StopSelected(cmd.Context(), args))
	},
}

var streamStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the stream status of a camera",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().StreamStatus(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get stream status: %w", err)
		}
		if jsonOutput {
			return printJSON(st)
		}
		printStatuses([]camera.StreamStatus{*st})
		return nil
	},
}

var streamActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "List streaming cameras",
	RunE: func(cmd *cobra.Command, args []string) error {
		active, err := newClient().ActiveStreams(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list active streams: %w", err)
		}
		if jsonOutput {
			return printJSON(active)
		}
		printStatuses(active.Streams)
		fmt.Printf("%d active\n", active.Total)
		return nil
	},
}

// commandResult keeps the per-camera notifications as the only output when
// some commands failed
func commandResult(err error) error {
	if err == nil {
		return nil
	}
	return errors.New("one or more stream commands failed")
}

func printStatuses(statuses []camera.StreamStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CAMERA\tNAME\tSTATUS\tSTREAMING\tFRAMES\tSTARTED")
	for _, st := range statuses {
		started := "-"
		if st.StreamInstance != nil {
			started = st.StreamInstance.StartedAt.Format("15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n", st.CameraID, st.CameraName, st.Status, st.IsStreaming, st.FrameCount, started)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(streamCmd)
	streamCmd.AddCommand(streamStartCmd, streamStopCmd, streamStatusCmd, streamActiveCmd)

	streamStartCmd.Flags().IntVar(&streamFPS, "fps", 0, "Processing frame rate (default 5)")
	streamStartCmd.Flags().StringVar(&streamResolution, "resolution", "", "Resolution, e.g. 1280x720")
}
