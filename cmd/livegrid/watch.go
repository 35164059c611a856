package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Spatial-NVR/livegrid/internal/control"
	"github.com/Spatial-NVR/livegrid/internal/dashboard"
	"github.com/Spatial-NVR/livegrid/internal/grid"
	"github.com/Spatial-NVR/livegrid/internal/live"
	"github.com/Spatial-NVR/livegrid/internal/overlay"
)

var watchCmd = &cobra.Command{
	Use:   "watch [camera-id...]",
	Short: "Show a live grid of cameras",
	Long: `Subscribes to the displayed cameras and prints the grid whenever a
frame, stream status or connection state changes. Without ids every camera
is selected and the layout keeps the first ones.`,
	Example: `  livegrid watch --layout 3x3
  livegrid watch cam-01 cam-02 --start`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	layout, err := grid.ParseLayout(viper.GetString("layout"))
	if err != nil {
		return err
	}

	coord := control.New(newClient(), control.WithNotifier(notifyStdout))

	liveCfg := live.DefaultConfig()
	if d := viper.GetDuration("live.base_delay"); d > 0 {
		liveCfg.BaseDelay = d
	}
	if d := viper.GetDuration("live.max_delay"); d > 0 {
		liveCfg.MaxDelay = d
	}
	if n := viper.GetInt("live.max_attempts"); n > 0 {
		liveCfg.MaxAttempts = n
	}
	session := live.New(liveCfg, live.NewWSDialer(viper.GetString("ws_url")))
	go func() {
		if err := session.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Live session stopped", "error", err)
		}
	}()
	defer session.Close()

	redraw := make(chan struct{}, 1)
	dash, err := dashboard.New(session, coord, dashboard.Config{
		Layout: layout,
		Overlay: overlay.Options{
			ShowBoundingBoxes: !viper.GetBool("no_boxes"),
			ShowConfidence:    !viper.GetBool("no_confidence"),
		},
		LiveEnabled: true,
	}, dashboard.WithOnChange(func(live.Change) {
		select {
		case redraw <- struct{}{}:
		default:
		}
	}))
	if err != nil {
		return err
	}
	defer dash.Close()
	go dash.Run(ctx)

	ids := args
	if len(ids) == 0 {
		cams, err := coord.Cameras(ctx)
		if err != nil {
			return fmt.Errorf("failed to list cameras: %w", err)
		}
		for _, c := range cams {
			ids = append(ids, c.ID)
		}
	}
	if overflow := grid.Overflow(layout, ids); len(overflow) > 0 {
		slog.Info("Cameras beyond the layout are not shown", "layout", layout, "hidden", overflow)
	}
	if err := dash.Select(ctx, ids...); err != nil {
		slog.Warn("Some channels could not be opened", "error", err)
	}

	if start, _ := cmd.Flags().GetBool("start"); start {
		_ = dash.StartSelected(ctx)
	}

	// redraws are coalesced to at most one per interval
	interval := viper.GetDuration("refresh")
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	render(ctx, dash)
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-redraw:
			dirty = true
		case <-ticker.C:
			if dirty {
				render(ctx, dash)
				dirty = false
			}
		}
	}
}

func render(ctx context.Context, dash *dashboard.Dashboard) {
	tiles := dash.Tiles(ctx)
	if jsonOutput {
		_ = printJSON(tiles)
		return
	}

	fmt.Printf("\n%s  %s  layout %s\n", time.Now().Format("15:04:05"), dash.Summary(ctx), dash.Config().Layout)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tCAMERA\tSTATE\tLINK\tFRAME\tPERSONS\tDETAIL")
	for _, t := range tiles {
		if t.State == dashboard.TileEmpty {
			fmt.Fprintf(w, "%d\t-\t%s\t\t\t\t\n", t.Slot.Index+1, t.State)
			continue
		}
		detail := t.Error
		if detail == "" && len(t.Annotations) > 0 {
			for i, a := range t.Annotations {
				if i > 0 {
					detail += ", "
				}
				detail += a.Label
			}
		}
		frame := ""
		if t.FrameNumber > 0 {
			frame = fmt.Sprintf("#%d", t.FrameNumber)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Slot.Index+1, t.CameraName, t.State, t.Connection, frame, t.Badge, detail)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(watchCmd)

	f := watchCmd.Flags()
	f.String("ws-url", "ws://localhost:8080/ws", "Live websocket URL")
	f.String("layout", string(grid.DefaultLayout), "Grid layout (1x1, 2x2, 3x3, 4x4)")
	f.Bool("no-boxes", false, "Hide detection labels")
	f.Bool("no-confidence", false, "Hide confidence in labels")
	f.Duration("refresh", 500*time.Millisecond, "Minimum time between redraws")
	f.Bool("start", false, "Start the selected streams first")

	_ = viper.BindPFlag("ws_url", f.Lookup("ws-url"))
	_ = viper.BindPFlag("layout", f.Lookup("layout"))
	_ = viper.BindPFlag("no_boxes", f.Lookup("no-boxes"))
	_ = viper.BindPFlag("no_confidence", f.Lookup("no-confidence"))
	_ = viper.BindPFlag("refresh", f.Lookup("refresh"))
}
