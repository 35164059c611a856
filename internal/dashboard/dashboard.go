// Package dashboard ties the camera selection, grid layout, live session and
// stream commands together into the tiles of a monitoring view
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Spatial-NVR/livegrid/internal/camera"
	"github.com/Spatial-NVR/livegrid/internal/control"
	"github.com/Spatial-NVR/livegrid/internal/grid"
	"github.com/Spatial-NVR/livegrid/internal/live"
	"github.com/Spatial-NVR/livegrid/internal/overlay"
)

// TileState is what a tile shows
type TileState string

const (
	// TileEmpty is a placeholder slot
	TileEmpty TileState = "empty"
	// TileNoSignal is a camera that is not streaming
	TileNoSignal TileState = "no_signal"
	// TileConnecting is a streaming camera without a frame yet
	TileConnecting TileState = "connecting"
	// TileLive is a streaming camera with a frame
	TileLive TileState = "live"
	// TilePaused is a streaming camera while live updates are off
	TilePaused TileState = "paused"
	// TileDisconnected is a streaming camera whose channel failed; it needs
	// a retry or Reconnect once it gave up
	TileDisconnected TileState = "disconnected"
)

// Tile is the render model of one grid slot
type Tile struct {
	Slot        grid.Slot            `json:"slot"`
	State       TileState            `json:"state"`
	CameraID    string               `json:"camera_id,omitempty"`
	CameraName  string               `json:"camera_name,omitempty"`
	Location    string               `json:"location,omitempty"`
	Status      camera.Status        `json:"status,omitempty"`
	Connection  live.State           `json:"connection,omitempty"`
	Error       string               `json:"error,omitempty"`
	FrameNumber int64                `json:"frame_number,omitempty"`
	Persons     int                  `json:"persons"`
	Badge       string               `json:"badge,omitempty"`
	Annotations []overlay.Annotation `json:"annotations,omitempty"`
}

// Connected reports whether the tile's live channel is up
func (t Tile) Connected() bool {
	return t.Connection == live.StateConnected
}

// Config holds the view settings
type Config struct {
	Layout      grid.Layout
	Overlay     overlay.Options
	LiveEnabled bool
}

// DefaultConfig returns a 2x2 view with overlays and live updates on
func DefaultConfig() Config {
	return Config{
		Layout:      grid.DefaultLayout,
		Overlay:     overlay.DefaultOptions(),
		LiveEnabled: true,
	}
}

// Option configures a Dashboard
type Option func(*Dashboard)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Dashboard) { d.logger = l.With("component", "dashboard") }
}

// WithOnChange registers a callback run for every live state change
func WithOnChange(fn func(live.Change)) Option {
	return func(d *Dashboard) { d.onChange = fn }
}

// Dashboard is one monitoring view. Channels are held for the cameras that
// are displayed while live updates are enabled.
type Dashboard struct {
	session  *live.Session
	control  *control.Coordinator
	logger   *slog.Logger
	onChange func(live.Change)

	mu        sync.Mutex
	cfg       Config
	selection *grid.Selection
	leases    map[string]*live.Lease
}

// New creates a dashboard over a running live session and a coordinator
func New(session *live.Session, coordinator *control.Coordinator, cfg Config, opts ...Option) (*Dashboard, error) {
	if cfg.Layout == "" {
		cfg.Layout = grid.DefaultLayout
	}
	if _, err := grid.ParseLayout(string(cfg.Layout)); err != nil {
		return nil, err
	}

	d := &Dashboard{
		session:   session,
		control:   coordinator,
		logger:    slog.Default().With("component", "dashboard"),
		cfg:       cfg,
		selection: grid.NewSelection(),
		leases:    make(map[string]*live.Lease),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Select adds cameras to the selection
func (d *Dashboard) Select(ctx context.Context, ids ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selection.Add(ids...)
	return d.syncLocked(ctx)
}

// Deselect removes cameras from the selection
func (d *Dashboard) Deselect(ctx context.Context, ids ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selection.Remove(ids...)
	return d.syncLocked(ctx)
}

// Toggle flips the selection of a camera and reports whether it is selected
func (d *Dashboard) Toggle(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	selected := d.selection.Toggle(id)
	return selected, d.syncLocked(ctx)
}

// Selection returns the selected ids in selection order
func (d *Dashboard) Selection() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selection.IDs()
}

// SetLayout changes the grid layout. The selection order is unchanged.
func (d *Dashboard) SetLayout(ctx context.Context, layout grid.Layout) error {
	if _, err := grid.ParseLayout(string(layout)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Layout = layout
	return d.syncLocked(ctx)
}

// SetLiveEnabled turns live updates on or off
func (d *Dashboard) SetLiveEnabled(ctx context.Context, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.LiveEnabled = enabled
	return d.syncLocked(ctx)
}

// SetOverlay changes the overlay toggles
func (d *Dashboard) SetOverlay(opts overlay.Options) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Overlay = opts
}

// Config returns the current view settings
func (d *Dashboard) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Assignment returns the current slot assignment
func (d *Dashboard) Assignment() grid.Assignment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return grid.Assign(d.cfg.Layout, d.selection.IDs())
}

// syncLocked makes the held leases match the displayed cameras
func (d *Dashboard) syncLocked(ctx context.Context) error {
	var displayed []string
	if d.cfg.LiveEnabled {
		displayed = grid.Assign(d.cfg.Layout, d.selection.IDs()).Cameras
	}
	want := make(map[string]bool, len(displayed))
	for _, id := range displayed {
		want[id] = true
	}

	var errs []error
	for id, lease := range d.leases {
		if want[id] {
			continue
		}
		if err := lease.Release(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release %s: %w", id, err))
		}
		delete(d.leases, id)
	}
	for _, id := range displayed {
		if d.leases[id] != nil {
			continue
		}
		lease, err := d.session.Acquire(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to subscribe %s: %w", id, err))
			continue
		}
		d.leases[id] = lease
	}
	return errors.Join(errs...)
}

// Tiles returns the render model of every slot of the layout. Camera records
// that cannot be fetched degrade to tiles without names or stream state.
func (d *Dashboard) Tiles(ctx context.Context) []Tile {
	d.mu.Lock()
	cfg := d.cfg
	assignment := grid.Assign(cfg.Layout, d.selection.IDs())
	d.mu.Unlock()

	records := d.records(ctx)
	store := d.session.Store()

	tiles := make([]Tile, 0, len(assignment.Slots))
	for _, slot := range assignment.Slots {
		tile := Tile{Slot: slot, State: TileEmpty}
		if slot.Empty() {
			tiles = append(tiles, tile)
			continue
		}

		id := slot.CameraID
		tile.CameraID = id
		tile.CameraName = id

		streaming := false
		if cam, ok := records[id]; ok {
			tile.CameraName = cam.Name
			tile.Location = cam.Location
			tile.Status = cam.Status
			streaming = cam.IsStreaming
		}
		// pushed stream status is newer than the cached record
		if st, ok := store.StreamStatus(id); ok {
			streaming = st.IsStreaming
			if st.Status != "" {
				tile.Status = camera.Status(st.Status)
			}
		}

		failed := false
		if ch, ok := store.Channel(id); ok {
			tile.Connection = ch.State
			if ch.State == live.StateError || ch.GaveUp {
				tile.Error = ch.LastError
				failed = true
			}
		}

		switch {
		case !streaming:
			tile.State = TileNoSignal
		case !cfg.LiveEnabled:
			tile.State = TilePaused
		case failed:
			tile.State = TileDisconnected
		default:
			tile.State = TileConnecting
			if snap, ok := store.Snapshot(id); ok {
				tile.State = TileLive
				tile.FrameNumber = snap.FrameNumber
				tile.Persons = len(snap.Detections)
				tile.Badge = overlay.PersonBadge(tile.Persons)
				tile.Annotations = overlay.Render(snap.Detections, cfg.Overlay)
			}
		}
		tiles = append(tiles, tile)
	}
	return tiles
}

func (d *Dashboard) records(ctx context.Context) map[string]*camera.Camera {
	out := make(map[string]*camera.Camera)
	cams, err := d.control.Cameras(ctx)
	if err != nil {
		d.logger.Warn("Failed to load cameras", "error", err)
		return out
	}
	for _, c := range cams {
		out[c.ID] = c
	}
	return out
}

// Summary returns the control panel line "N selected • M streaming", where M
// counts the selected cameras that are streaming
func (d *Dashboard) Summary(ctx context.Context) string {
	ids := d.Selection()
	records := d.records(ctx)

	streaming := 0
	for _, id := range ids {
		if cam, ok := records[id]; ok && cam.IsStreaming {
			streaming++
		}
	}
	return fmt.Sprintf("%d selected • %d streaming", len(ids), streaming)
}

// StartSelected starts the stream of every selected camera with the default
// stream settings. Displayed cameras that started get their channel retried
// right away: stream_status only reaches subscribed channels, so a channel
// that gave up never hears about the start.
func (d *Dashboard) StartSelected(ctx context.Context) error {
	started, err := d.control.StartSelected(ctx, d.Selection(), nil)
	errs := []error{err}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range started {
		if d.leases[id] == nil {
			continue
		}
		if rerr := d.session.Reconnect(ctx, id); rerr != nil && !errors.Is(rerr, live.ErrNotSubscribed) {
			errs = append(errs, fmt.Errorf("failed to reconnect %s: %w", id, rerr))
		}
	}
	return errors.Join(errs...)
}

// StopSelected stops the stream of every selected camera
func (d *Dashboard) StopSelected(ctx context.Context) error {
	return d.control.StopSelected(ctx, d.Selection())
}

// Reconnect retries the live channel of a displayed camera immediately
func (d *Dashboard) Reconnect(ctx context.Context, id string) error {
	return d.session.Reconnect(ctx, id)
}

// Run follows live state changes until ctx is done. Stream status events
// invalidate the cached camera record so the next read refetches it.
func (d *Dashboard) Run(ctx context.Context) error {
	changes := d.session.Store().Watch()
	defer d.session.Store().Unwatch(changes)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			if c.Kind == live.ChangeStreamStatus {
				d.control.Invalidate(c.CameraID)
			}
			if d.onChange != nil {
				d.onChange(c)
			}
		}
	}
}

// Close releases every held channel
func (d *Dashboard) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for id, lease := range d.leases {
		if err := lease.Release(); err != nil && !errors.Is(err, live.ErrClosed) {
			errs = append(errs, err)
		}
		delete(d.leases, id)
	}
	return errors.Join(errs...)
}
