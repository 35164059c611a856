// Package wire defines the messages exchanged over the live event channel
// between the dashboard and the camera service.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type names a signal or event on the live channel
type Type string

const (
	// Client -> server signals
	TypeSubscribeCamera   Type = "subscribe_camera"
	TypeUnsubscribeCamera Type = "unsubscribe_camera"
	TypePing              Type = "ping"

	// Server -> client events
	TypeSubscribed     Type = "subscribed"
	TypeSubscribeError Type = "subscribe_error"
	TypeFrameUpdate    Type = "frame_update"
	TypeStreamStatus   Type = "stream_status"
	TypePong           Type = "pong"
)

// Person classifications reported by the detector
const (
	PersonResident = "resident"
	PersonGuest    = "guest"
	PersonUnknown  = "unknown"
)

// Message is the envelope for every frame on the live channel
type Message struct {
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the message payload into v
func (m Message) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Encode builds a serialized message of the given type
func Encode(t Type, payload interface{}) ([]byte, error) {
	msg := Message{Type: t, Timestamp: time.Now()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

// Parse unmarshals a single serialized message
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("message has no type")
	}
	return msg, nil
}

// CameraRef identifies a camera in subscribe/unsubscribe signals and acks.
// RequestID correlates a subscribe signal with its acknowledgement.
type CameraRef struct {
	CameraID  string `json:"camera_id"`
	RequestID string `json:"request_id,omitempty"`
}

// SubscribeError rejects a subscription, e.g. for a camera that is not streaming
type SubscribeError struct {
	CameraID  string `json:"camera_id"`
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
}

// Detection is one detected person in a frame. BBox is [x1, y1, x2, y2] in
// the 1920x1080 logical reference frame.
type Detection struct {
	ID             string    `json:"id"`
	TrackID        string    `json:"track_id,omitempty"`
	BBox           []float64 `json:"bbox"`
	Confidence     float64   `json:"confidence"`
	PersonType     string    `json:"person_type"`
	PersonName     string    `json:"person_name,omitempty"`
	FaceConfidence *float64  `json:"face_confidence,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// FrameUpdate carries the detections of one processed frame.
// SessionEpoch identifies the stream run the frame belongs to (stream start
// time in unix milliseconds); zero means unknown.
type FrameUpdate struct {
	CameraID     string      `json:"camera_id"`
	CameraName   string      `json:"camera_name,omitempty"`
	SessionEpoch int64       `json:"session_epoch,omitempty"`
	FrameNumber  int64       `json:"frame_number"`
	Detections   []Detection `json:"detections"`
	TotalPersons int         `json:"total_persons"`
	Timestamp    time.Time   `json:"timestamp"`
}

// StreamStatus reports a change of a camera's stream state
type StreamStatus struct {
	CameraID     string `json:"camera_id"`
	Status       string `json:"status"`
	IsStreaming  bool   `json:"is_streaming"`
	SessionEpoch int64  `json:"session_epoch,omitempty"`
}
