package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Spatial-NVR/livegrid/internal/camera"
)

var (
	cameraName       string
	cameraLocation   string
	cameraZone       string
	cameraStreamURL  string
	cameraStreamType string
	cameraBuilding   string
	cameraFPS        int
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "Manage cameras",
}

var camerasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all cameras",
	RunE: func(cmd *cobra.Command, args []string) error {
		cams, err := newClient().List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list cameras: %w", err)
		}
		if jsonOutput {
			return printJSON(cams)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tLOCATION\tSTATUS\tSTREAMING\tFRAMES")
		for _, c := range cams {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\n", c.ID, c.Name, c.Location, c.Status, c.IsStreaming, c.FrameCount)
		}
		return w.Flush()
	},
}

var camerasGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one camera",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient().Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get camera: %w", err)
		}
		if jsonOutput {
			return printJSON(c)
		}
		printCamera(c)
		return nil
	},
}

var camerasCreateCmd = &cobra.Command{
	Use:     "create",
	Short:   "Create a camera",
	Example: `  livegrid cameras create --name "Lobby" --location "Building A" --url rtsp://10.0.0.5/stream`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := camera.CreateRequest{
			Name:       cameraName,
			Location:   cameraLocation,
			ZoneType:   cameraZone,
			StreamURL:  cameraStreamURL,
			StreamType: camera.StreamType(cameraStreamType),
			BuildingID: cameraBuilding,
		}
		if id, _ := cmd.Flags().GetString("id"); id != "" {
			req.ID = id
		}
		if cameraFPS > 0 {
			req.StreamConfig = &camera.StreamConfig{FPS: cameraFPS}
		}

		c, err := newClient().Create(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("failed to create camera: %w", err)
		}
		if jsonOutput {
			return printJSON(c)
		}
		fmt.Printf("Created camera %s\n", c.ID)
		return nil
	},
}

var camerasUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a camera; only the given flags change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req camera.UpdateRequest
		flags := cmd.Flags()
		if flags.Changed("name") {
			req.Name = &cameraName
		}
		if flags.Changed("location") {
			req.Location = &cameraLocation
		}
		if flags.Changed("zone") {
			req.ZoneType = &cameraZone
		}
		if flags.Changed("url") {
			req.StreamURL = &cameraStreamURL
		}
		if flags.Changed("type") {
			t := camera.StreamType(cameraStreamType)
			req.StreamType = &t
		}
		if flags.Changed("building") {
			req.BuildingID = &cameraBuilding
		}
		if flags.Changed("fps") {
			req.StreamConfig = &camera.StreamConfig{FPS: cameraFPS}
		}
		if flags.Changed("status") {
			s, _ := flags.GetString("status")
			status := camera.Status(s)
			req.Status = &status
		}

		c, err := newClient().Update(cmd.Context(), args[0], req)
		if err != nil {
			return fmt.Errorf("failed to update camera: %w", err)
		}
		if jsonOutput {
			return printJSON(c)
		}
		printCamera(c)
		return nil
	},
}

var camerasDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a camera",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete camera: %w", err)
		}
		fmt.Printf("Deleted camera %s\n", args[0])
		return nil
	},
}

func printCamera(c *camera.Camera) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", c.ID)
	fmt.Fprintf(w, "Name:\t%s\n", c.Name)
	fmt.Fprintf(w, "Location:\t%s\n", c.Location)
	fmt.Fprintf(w, "Status:\t%s\n", c.Status)
	fmt.Fprintf(w, "Stream:\t%s %s\n", c.StreamType, c.StreamURL)
	fmt.Fprintf(w, "Streaming:\t%t\n", c.IsStreaming)
	fmt.Fprintf(w, "Frames:\t%d\n", c.FrameCount)
	if c.LastFrameAt != nil {
		fmt.Fprintf(w, "Last frame:\t%s\n", c.LastFrameAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(camerasCmd)
	camerasCmd.AddCommand(camerasListCmd, camerasGetCmd, camerasCreateCmd, camerasUpdateCmd, camerasDeleteCmd)

	for _, c := range []*cobra.Command{camerasCreateCmd, camerasUpdateCmd} {
		c.Flags().StringVar(&cameraName, "name", "", "Camera name")
		c.Flags().StringVar(&cameraLocation, "location", "", "Camera location")
		c.Flags().StringVar(&cameraZone, "zone", "", "Zone type")
		c.Flags().StringVar(&cameraStreamURL, "url", "", "Stream URL")
		c.Flags().StringVar(&cameraStreamType, "type", "", "Stream type (rtsp, http, file, webcam)")
		c.Flags().StringVar(&cameraBuilding, "building", "", "Building id")
		c.Flags().IntVar(&cameraFPS, "fps", 0, "Processing frame rate")
	}
	camerasCreateCmd.Flags().String("id", "", "Camera id (generated when empty)")
	_ = camerasCreateCmd.MarkFlagRequired("name")
	camerasUpdateCmd.Flags().String("status", "", "Status (online, offline, error, maintenance)")
}
