package api

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Spatial-NVR/livegrid/internal/camera"
)

var cameraIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// CameraValidator validates camera requests
type CameraValidator struct {
	errors ValidationErrors
}

// NewCameraValidator creates a new camera validator
func NewCameraValidator() *CameraValidator {
	return &CameraValidator{}
}

func (v *CameraValidator) add(field, format string, args ...interface{}) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateCreate validates a create request
func (v *CameraValidator) ValidateCreate(req camera.CreateRequest) ValidationErrors {
	v.errors = nil

	if req.ID != "" {
		if err := ValidateCameraID(req.ID); err != nil {
			v.add("id", "%s", err.Error())
		}
	}
	v.validateName(req.Name)

	streamType := req.StreamType
	if streamType == "" {
		streamType = camera.StreamRTSP
	}
	v.validateStreamType(streamType)
	v.validateStreamURL(streamType, req.StreamURL)
	v.validateStreamConfig("stream_config", req.StreamConfig)

	return v.errors
}

// ValidateUpdate validates an update request; only set fields are checked
func (v *CameraValidator) ValidateUpdate(req camera.UpdateRequest) ValidationErrors {
	v.errors = nil

	if req.Name != nil {
		v.validateName(*req.Name)
	}
	if req.StreamType != nil {
		v.validateStreamType(*req.StreamType)
	}
	if req.StreamURL != nil && *req.StreamURL != "" {
		streamType := camera.StreamRTSP
		if req.StreamType != nil {
			streamType = *req.StreamType
		}
		v.validateStreamURL(streamType, *req.StreamURL)
	}
	if req.Status != nil && !req.Status.Valid() {
		v.add("status", "unknown status '%s'", *req.Status)
	}
	v.validateStreamConfig("stream_config", req.StreamConfig)

	return v.errors
}

// ValidateStreamConfig validates the settings of a start-stream request
func (v *CameraValidator) ValidateStreamConfig(cfg *camera.StreamConfig) ValidationErrors {
	v.errors = nil
	v.validateStreamConfig("", cfg)
	return v.errors
}

func (v *CameraValidator) validateName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		v.add("name", "camera name is required")
		return
	}
	if len(name) < 2 {
		v.add("name", "camera name must be at least 2 characters")
	}
	if len(name) > 100 {
		v.add("name", "camera name must be less than 100 characters")
	}
}

func (v *CameraValidator) validateStreamType(t camera.StreamType) {
	if !t.Valid() {
		v.add("stream_type", "unsupported stream type '%s'. Supported: rtsp, http, file, webcam", t)
	}
}

// validateStreamURL checks network stream URLs; file and webcam sources are
// paths or device indexes and are accepted as given
func (v *CameraValidator) validateStreamURL(t camera.StreamType, streamURL string) {
	if t == camera.StreamFile || t == camera.StreamWebcam || streamURL == "" {
		return
	}

	u, err := url.Parse(streamURL)
	if err != nil {
		v.add("stream_url", "invalid URL format")
		return
	}

	var schemes map[string]bool
	switch t {
	case camera.StreamHTTP:
		schemes = map[string]bool{"http": true, "https": true}
	default:
		schemes = map[string]bool{"rtsp": true, "rtsps": true, "rtmp": true}
	}

	if !schemes[strings.ToLower(u.Scheme)] {
		v.add("stream_url", "unsupported protocol '%s' for %s streams", u.Scheme, t)
	}
	if u.Host == "" {
		v.add("stream_url", "stream URL must include a host")
	}
}

func (v *CameraValidator) validateStreamConfig(prefix string, cfg *camera.StreamConfig) {
	if cfg == nil {
		return
	}
	field := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}

	if cfg.FPS < 0 || cfg.FPS > 60 {
		v.add(field("fps"), "fps must be between 1 and 60")
	}
	if cfg.BufferSize < 0 || cfg.BufferSize > 1000 {
		v.add(field("buffer_size"), "buffer size must be between 0 and 1000")
	}
	if cfg.Resolution != "" {
		var w, h int
		if n, _ := fmt.Sscanf(cfg.Resolution, "%dx%d", &w, &h); n != 2 || w <= 0 || h <= 0 {
			v.add(field("resolution"), "resolution must look like 1920x1080")
		}
	}
}

// ValidateCameraID validates a camera ID format
func ValidateCameraID(id string) error {
	if id == "" {
		return fmt.Errorf("camera ID is required")
	}
	if !cameraIDPattern.MatchString(id) {
		return fmt.Errorf("camera ID must contain only letters, numbers, underscores, and hyphens")
	}
	if len(id) > 50 {
		return fmt.Errorf("camera ID must be less than 50 characters")
	}
	return nil
}

// SanitizeStreamURL removes credentials from a URL for logging
func SanitizeStreamURL(streamURL string) string {
	u, err := url.Parse(streamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[invalid-url]"
	}
	u.User = nil
	return u.String()
}
