// Package camera provides camera records and stream control
package camera

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown camera ids
	ErrNotFound = errors.New("camera not found")
	// ErrExists is returned when creating a camera with a taken id
	ErrExists = errors.New("camera already exists")
	// ErrNotStreaming is returned when stopping a camera that is not streaming
	ErrNotStreaming = errors.New("camera is not streaming")
	// ErrAlreadyStreaming is returned when starting a camera that is streaming
	ErrAlreadyStreaming = errors.New("camera is already streaming")
)

// Status represents camera status
type Status string

const (
	StatusOnline      Status = "online"
	StatusOffline     Status = "offline"
	StatusError       Status = "error"
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusError, StatusMaintenance:
		return true
	}
	return false
}

// StreamType is the source protocol of a camera stream
type StreamType string

const (
	StreamRTSP   StreamType = "rtsp"
	StreamHTTP   StreamType = "http"
	StreamFile   StreamType = "file"
	StreamWebcam StreamType = "webcam"
)

// Valid reports whether t is a known stream type
func (t StreamType) Valid() bool {
	switch t {
	case StreamRTSP, StreamHTTP, StreamFile, StreamWebcam:
		return true
	}
	return false
}

// StreamConfig holds processing settings of a stream
type StreamConfig struct {
	FPS        int    `json:"fps,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Codec      string `json:"codec,omitempty"`
	BufferSize int    `json:"buffer_size,omitempty"`
}

// DefaultStreamConfig is used when a stream is started without settings
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{FPS: 5}
}

// Camera is a camera record
type Camera struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Location     string        `json:"location"`
	ZoneType     string        `json:"zone_type,omitempty"`
	StreamURL    string        `json:"stream_url,omitempty"`
	StreamType   StreamType    `json:"stream_type"`
	IsStreaming  bool          `json:"is_streaming"`
	StreamConfig *StreamConfig `json:"stream_config,omitempty"`
	LastFrameAt  *time.Time    `json:"last_frame_at,omitempty"`
	FrameCount   int64         `json:"frame_count"`
	Status       Status        `json:"status"`
	BuildingID   string        `json:"building_id"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// StreamInstance describes the running stream of a camera
type StreamInstance struct {
	StartedAt       time.Time `json:"started_at"`
	FramesProcessed int64     `json:"frames_processed"`
	IsActive        bool      `json:"is_active"`
}

// StreamStatus is the stream state of one camera
type StreamStatus struct {
	CameraID       string          `json:"camera_id"`
	CameraName     string          `json:"camera_name"`
	Status         Status          `json:"status"`
	IsStreaming    bool            `json:"is_streaming"`
	StreamType     StreamType      `json:"stream_type"`
	LastFrameAt    *time.Time      `json:"last_frame_at"`
	FrameCount     int64           `json:"frame_count"`
	StreamConfig   *StreamConfig   `json:"stream_config"`
	StreamInstance *StreamInstance `json:"stream_instance,omitempty"`
}

// Epoch returns the session epoch of the running stream (start time in unix
// milliseconds), or 0 when not streaming
func (s StreamStatus) Epoch() int64 {
	if s.StreamInstance == nil || !s.StreamInstance.IsActive {
		return 0
	}
	return s.StreamInstance.StartedAt.UnixMilli()
}

// ActiveStreams lists streaming cameras
type ActiveStreams struct {
	Total   int            `json:"total"`
	Streams []StreamStatus `json:"streams"`
}

// CreateRequest is the payload for creating a camera
type CreateRequest struct {
	ID           string        `json:"id,omitempty"`
	Name         string        `json:"name"`
	Location     string        `json:"location"`
	ZoneType     string        `json:"zone_type,omitempty"`
	StreamURL    string        `json:"stream_url,omitempty"`
	StreamType   StreamType    `json:"stream_type,omitempty"`
	StreamConfig *StreamConfig `json:"stream_config,omitempty"`
	BuildingID   string        `json:"building_id,omitempty"`
}

// UpdateRequest is the payload for updating a camera; nil fields are unchanged
type UpdateRequest struct {
	Name         *string       `json:"name,omitempty"`
	Location     *string       `json:"location,omitempty"`
	ZoneType     *string       `json:"zone_type,omitempty"`
	StreamURL    *string       `json:"stream_url,omitempty"`
	StreamType   *StreamType   `json:"stream_type,omitempty"`
	StreamConfig *StreamConfig `json:"stream_config,omitempty"`
	Status       *Status       `json:"status,omitempty"`
	BuildingID   *string       `json:"building_id,omitempty"`
}
