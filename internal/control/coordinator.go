// Package control issues stream commands against the camera service and
// keeps a cache of camera records consistent with their results
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Spatial-NVR/livegrid/internal/camera"
	"github.com/Spatial-NVR/livegrid/internal/metrics"
)

// Notification messages
const (
	MsgStartSucceeded = "Stream started successfully"
	MsgStopSucceeded  = "Stream stopped successfully"
	MsgStartFailed    = "Failed to start stream"
	MsgStopFailed     = "Failed to stop stream"
)

// CameraService is the camera collaborator. Both the REST client and the
// in-process camera service implement it.
type CameraService interface {
	List(ctx context.Context) ([]*camera.Camera, error)
	Get(ctx context.Context, id string) (*camera.Camera, error)
	Create(ctx context.Context, req camera.CreateRequest) (*camera.Camera, error)
	Update(ctx context.Context, id string, req camera.UpdateRequest) (*camera.Camera, error)
	Delete(ctx context.Context, id string) error
	StartStream(ctx context.Context, id string, cfg *camera.StreamConfig) (*camera.StreamStatus, error)
	StopStream(ctx context.Context, id string) (*camera.StreamStatus, error)
	StreamStatus(ctx context.Context, id string) (*camera.StreamStatus, error)
	ActiveStreams(ctx context.Context) (*camera.ActiveStreams, error)
}

// MessageFrom returns the human-readable message carried by err, or fallback
func MessageFrom(err error, fallback string) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	return fallback
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithNotifier sets where command results are reported
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithMetrics records command results
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l.With("component", "control")
		}
	}
}

// Coordinator runs start/stop commands and caches camera records.
// Cached state only changes after a command is confirmed.
type Coordinator struct {
	service  CameraService
	notifier Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger

	mu      sync.Mutex
	gen     uint64
	list    []*camera.Camera
	listOK  bool
	cameras map[string]*camera.Camera
}

// New creates a Coordinator over service
func New(service CameraService, opts ...Option) *Coordinator {
	c := &Coordinator{
		service: service,
		logger:  slog.Default().With("component", "control"),
		cameras: make(map[string]*camera.Camera),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.logger}
	}
	return c
}

// Service returns the underlying camera service
func (c *Coordinator) Service() CameraService {
	return c.service
}

// Cameras returns the camera collection, fetching it on a cache miss
func (c *Coordinator) Cameras(ctx context.Context) ([]*camera.Camera, error) {
	c.mu.Lock()
	if c.listOK {
		list := append([]*camera.Camera(nil), c.list...)
		c.mu.Unlock()
		return list, nil
	}
	gen := c.gen
	c.mu.Unlock()

	list, err := c.service.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}

	c.mu.Lock()
	// an invalidation during the fetch wins over this result
	if gen == c.gen {
		c.list = list
		c.listOK = true
	}
	c.mu.Unlock()
	return append([]*camera.Camera(nil), list...), nil
}

// Camera returns one camera record, fetching it on a cache miss
func (c *Coordinator) Camera(ctx context.Context, id string) (*camera.Camera, error) {
	c.mu.Lock()
	if cam, ok := c.cameras[id]; ok {
		c.mu.Unlock()
		return cam, nil
	}
	gen := c.gen
	c.mu.Unlock()

	cam, err := c.service.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get camera %s: %w", id, err)
	}

	c.mu.Lock()
	if gen == c.gen {
		c.cameras[id] = cam
	}
	c.mu.Unlock()
	return cam, nil
}

// Invalidate drops the cached record of id and the cached collection
func (c *Coordinator) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	delete(c.cameras, id)
	c.list = nil
	c.listOK = false
}

// InvalidateAll drops every cached record
func (c *Coordinator) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cameras = make(map[string]*camera.Camera)
	c.list = nil
	c.listOK = false
}

// ActiveStreams lists streaming cameras; it is not cached
func (c *Coordinator) ActiveStreams(ctx context.Context) (*camera.ActiveStreams, error) {
	return c.service.ActiveStreams(ctx)
}

// StartStream starts a camera stream. A nil cfg uses the default stream
// settings. It never opens a live channel.
func (c *Coordinator) StartStream(ctx context.Context, id string, cfg *camera.StreamConfig) (*camera.StreamStatus, error) {
	if cfg == nil {
		def := camera.DefaultStreamConfig()
		cfg = &def
	}
	return c.command(ctx, "start", id, MsgStartSucceeded, MsgStartFailed, func() (*camera.StreamStatus, error) {
		return c.service.StartStream(ctx, id, cfg)
	})
}

// StopStream stops a camera stream. It never closes a live channel.
func (c *Coordinator) StopStream(ctx context.Context, id string) (*camera.StreamStatus, error) {
	return c.command(ctx, "stop", id, MsgStopSucceeded, MsgStopFailed, func() (*camera.StreamStatus, error) {
		return c.service.StopStream(ctx, id)
	})
}

func (c *Coordinator) command(ctx context.Context, name, id, okMsg, failMsg string, run func() (*camera.StreamStatus, error)) (*camera.StreamStatus, error) {
	status, err := run()
	if err != nil {
		c.metrics.Command(name, "error")
		c.logger.Warn("Stream command failed", "command", name, "camera_id", id, "error", err)
		c.notifier.Notify(Notification{
			Level:    LevelError,
			Message:  MessageFrom(err, failMsg),
			CameraID: id,
			Time:     time.Now(),
		})
		return nil, err
	}

	c.metrics.Command(name, "success")
	c.Invalidate(id)
	c.refetch(ctx, id)
	c.notifier.Notify(Notification{
		Level:    LevelSuccess,
		Message:  okMsg,
		CameraID: id,
		Time:     time.Now(),
	})
	return status, nil
}

// refetch reloads the collection and the camera after a confirmed command.
// Failures leave the cache empty so the next read fetches again.
func (c *Coordinator) refetch(ctx context.Context, id string) {
	if _, err := c.Cameras(ctx); err != nil {
		c.logger.Warn("Failed to refetch cameras", "error", err)
	}
	if _, err := c.Camera(ctx, id); err != nil {
		c.logger.Warn("Failed to refetch camera", "camera_id", id, "error", err)
	}
}

// StartSelected starts every camera in ids in order, continuing past
// failures. It returns the ids that started and the joined failures.
func (c *Coordinator) StartSelected(ctx context.Context, ids []string, cfg *camera.StreamConfig) ([]string, error) {
	var started []string
	var errs []error
	for _, id := range ids {
		if _, err := c.StartStream(ctx, id, cfg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		started = append(started, id)
	}
	return started, errors.Join(errs...)
}

// StopSelected stops every camera in ids in order, continuing past failures
func (c *Coordinator) StopSelected(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		if _, err := c.StopStream(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
