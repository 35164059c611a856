// Package client talks to the livegrid camera API
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Spatial-NVR/livegrid/internal/camera"
	"github.com/Spatial-NVR/livegrid/internal/wire"
)

// Config configures the API client
type Config struct {
	// BaseURL includes the /api prefix, e.g. http://localhost:8080/api
	BaseURL string
	Timeout time.Duration
}

// Client is a REST client for the camera API
type Client struct {
	HTTP   *resty.Client
	Config Config
}

// APIError is a failed API call. Message is the server's human-readable
// error message when one was returned.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// UserMessage returns the message to show to a user
func (e *APIError) UserMessage() string {
	return e.Message
}

// IsNotFound reports whether err is an API 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// New creates a client
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	r := resty.New()
	r.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	r.SetTimeout(cfg.Timeout)
	r.SetHeader("Content-Type", "application/json")
	r.SetHeader("Accept", "application/json")

	return &Client{HTTP: r, Config: cfg}
}

// do performs a request and decodes the envelope's data into out (may be nil)
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req := c.HTTP.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", method, path, err)
	}

	raw := resp.Body()
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode(), Message: resp.Status()}
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to parse response of %s %s: %w", method, path, err)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("response of %s %s has no data", method, path)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode data of %s %s: %w", method, path, err)
	}
	return nil
}

func cameraPath(id string, rest ...string) string {
	return "/cameras/" + strings.Join(append([]string{id}, rest...), "/")
}

// List returns all cameras
func (c *Client) List(ctx context.Context) ([]*camera.Camera, error) {
	var cams []*camera.Camera
	if err := c.do(ctx, http.MethodGet, "/cameras", nil, &cams); err != nil {
		return nil, err
	}
	return cams, nil
}

// Get returns one camera
func (c *Client) Get(ctx context.Context, id string) (*camera.Camera, error) {
	var cam camera.Camera
	if err := c.do(ctx, http.MethodGet, cameraPath(id), nil, &cam); err != nil {
		return nil, err
	}
	return &cam, nil
}

// Create creates a camera
func (c *Client) Create(ctx context.Context, req camera.CreateRequest) (*camera.Camera, error) {
	var cam camera.Camera
	if err := c.do(ctx, http.MethodPost, "/cameras", req, &cam); err != nil {
		return nil, err
	}
	return &cam, nil
}

// Update updates a camera
func (c *Client) Update(ctx context.Context, id string, req camera.UpdateRequest) (*camera.Camera, error) {
	var cam camera.Camera
	if err := c.do(ctx, http.MethodPut, cameraPath(id), req, &cam); err != nil {
		return nil, err
	}
	return &cam, nil
}

// Delete deletes a camera
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, cameraPath(id), nil, nil)
}

// StartStream starts a camera stream. A nil cfg lets the server choose.
func (c *Client) StartStream(ctx context.Context, id string, cfg *camera.StreamConfig) (*camera.StreamStatus, error) {
	var status camera.StreamStatus
	var body interface{}
	if cfg != nil {
		body = cfg
	}
	if err := c.do(ctx, http.MethodPost, cameraPath(id, "start-stream"), body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// StopStream stops a camera stream
func (c *Client) StopStream(ctx context.Context, id string) (*camera.StreamStatus, error) {
	var status camera.StreamStatus
	if err := c.do(ctx, http.MethodPost, cameraPath(id, "stop-stream"), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// StreamStatus returns the stream state of a camera
func (c *Client) StreamStatus(ctx context.Context, id string) (*camera.StreamStatus, error) {
	var status camera.StreamStatus
	if err := c.do(ctx, http.MethodGet, cameraPath(id, "stream-status"), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ActiveStreams lists streaming cameras
func (c *Client) ActiveStreams(ctx context.Context) (*camera.ActiveStreams, error) {
	var active camera.ActiveStreams
	if err := c.do(ctx, http.MethodGet, "/cameras/active-streams/list", nil, &active); err != nil {
		return nil, err
	}
	return &active, nil
}

// IngestFrame posts the detections of one processed frame
func (c *Client) IngestFrame(ctx context.Context, id string, detections []wire.Detection) (*wire.FrameUpdate, error) {
	var frame wire.FrameUpdate
	body := map[string]interface{}{"detections": detections}
	if err := c.do(ctx, http.MethodPost, cameraPath(id, "frames"), body, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}
