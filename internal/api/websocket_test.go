package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Spatial-NVR/livegrid/internal/camera"
	"github.com/Spatial-NVR/livegrid/internal/core"
	"github.com/Spatial-NVR/livegrid/internal/metrics"
	"github.com/Spatial-NVR/livegrid/internal/wire"
)

type fakeChecker map[string]bool

func (f fakeChecker) IsStreaming(_ context.Context, id string) (bool, error) {
	streaming, ok := f[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", camera.ErrNotFound, id)
	}
	return streaming, nil
}

func startHub(t *testing.T, checker StreamChecker) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(checker, metrics.New("test"))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendSignal(t *testing.T, conn *websocket.Conn, typ wire.Type, payload interface{}) {
	t.Helper()
	data, err := wire.Encode(typ, payload)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

// readMessages reads one websocket frame and splits batched messages
func readMessages(t *testing.T, conn *websocket.Conn) []wire.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	var out []wire.Message
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		msg, err := wire.Parse(line)
		if err != nil {
			t.Fatalf("Failed to parse %q: %v", line, err)
		}
		out = append(out, msg)
	}
	return out
}

func nextMessage(t *testing.T, conn *websocket.Conn, pending *[]wire.Message) wire.Message {
	t.Helper()
	if len(*pending) == 0 {
		*pending = readMessages(t, conn)
	}
	msg := (*pending)[0]
	*pending = (*pending)[1:]
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func TestHub_SubscribeStreaming(t *testing.T) {
	hub, url, _ := startHub(t, fakeChecker{"cam-01": true})
	conn := dialHub(t, url)
	var pending []wire.Message

	sendSignal(t, conn, wire.TypeSubscribeCamera, wire.CameraRef{CameraID: "cam-01", RequestID: "req-1"})

	msg := nextMessage(t, conn, &pending)
	if msg.Type != wire.TypeSubscribed {
		t.Fatalf("Expected subscribed, got %s", msg.Type)
	}
	var ref wire.CameraRef
	if err := msg.Decode(&ref); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if ref.CameraID != "cam-01" || ref.RequestID != "req-1" {
		t.Errorf("Unexpected ack: %+v", ref)
	}
	if hub.SubscriberCount("cam-01") != 1 {
		t.Errorf("Expected 1 subscriber, got %d", hub.SubscriberCount("cam-01"))
	}

	hub.BroadcastFrame(wire.FrameUpdate{CameraID: "cam-01", FrameNumber: 7, SessionEpoch: 1000})
	hub.BroadcastStatus(wire.StreamStatus{CameraID: "cam-01", Status: "online", IsStreaming: true})

	msg = nextMessage(t, conn, &pending)
	if msg.Type != wire.TypeFrameUpdate {
		t.Fatalf("Expected frame_update, got %s", msg.Type)
	}
	var frame wire.FrameUpdate
	if err := msg.Decode(&frame); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	if frame.FrameNumber != 7 || frame.SessionEpoch != 1000 {
		t.Errorf("Unexpected frame: %+v", frame)
	}

	msg = nextMessage(t, conn, &pending)
	if msg.Type != wire.TypeStreamStatus {
		t.Errorf("Expected stream_status, got %s", msg.Type)
	}
}

func TestHub_SubscribeRejected(t *testing.T) {
	_, url, _ := startHub(t, fakeChecker{"cam-02": false})
	conn := dialHub(t, url)
	var pending []wire.Message

	tests := []struct {
		cameraID string
		want     string
	}{
		{"cam-02", "camera is not streaming"},
		{"cam-99", "camera not found"},
		{"", "camera_id is required"},
	}

	for _, tt := range tests {
		sendSignal(t, conn, wire.TypeSubscribeCamera, wire.CameraRef{CameraID: tt.cameraID, RequestID: "r-" + tt.cameraID})

		msg := nextMessage(t, conn, &pending)
		if msg.Type != wire.TypeSubscribeError {
			t.Fatalf("Expected subscribe_error for %q, got %s", tt.cameraID, msg.Type)
		}
		var se wire.SubscribeError
		if err := msg.Decode(&se); err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if se.Message != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, se.Message)
		}
		if se.CameraID != tt.cameraID || se.RequestID != "r-"+tt.cameraID {
			t.Errorf("Expected error to echo ids, got %+v", se)
		}
	}
}

func TestHub_FramesOnlyToSubscribers(t *testing.T) {
	hub, url, _ := startHub(t, fakeChecker{"cam-01": true})
	subscriber := dialHub(t, url)
	other := dialHub(t, url)
	var pending []wire.Message

	sendSignal(t, subscriber, wire.TypeSubscribeCamera, wire.CameraRef{CameraID: "cam-01"})
	if msg := nextMessage(t, subscriber, &pending); msg.Type != wire.TypeSubscribed {
		t.Fatalf("Expected subscribed, got %s", msg.Type)
	}
	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	hub.BroadcastFrame(wire.FrameUpdate{CameraID: "cam-01", FrameNumber: 1})

	// a frame would have been queued before the pong
	sendSignal(t, other, wire.TypePing, nil)
	var otherPending []wire.Message
	if msg := nextMessage(t, other, &otherPending); msg.Type != wire.TypePong {
		t.Errorf("Expected pong first on unsubscribed client, got %s", msg.Type)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub, url, _ := startHub(t, fakeChecker{"cam-01": true})
	conn := dialHub(t, url)
	var pending []wire.Message

	sendSignal(t, conn, wire.TypeSubscribeCamera, wire.CameraRef{CameraID: "cam-01"})
	nextMessage(t, conn, &pending)

	sendSignal(t, conn, wire.TypeUnsubscribeCamera, wire.CameraRef{CameraID: "cam-01"})
	waitFor(t, func() bool { return hub.SubscriberCount("cam-01") == 0 })
}

func TestHub_PingPong(t *testing.T) {
	_, url, _ := startHub(t, fakeChecker{})
	conn := dialHub(t, url)
	var pending []wire.Message

	sendSignal(t, conn, wire.TypePing, nil)
	if msg := nextMessage(t, conn, &pending); msg.Type != wire.TypePong {
		t.Errorf("Expected pong, got %s", msg.Type)
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub, url, cancel := startHub(t, fakeChecker{})
	conn := dialHub(t, url)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	cancel()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection to be closed")
	}
}

func TestHub_AttachBus(t *testing.T) {
	bus, err := core.NewEventBus(core.EventBusConfig{Port: -1}, nil)
	if err != nil {
		t.Fatalf("Failed to start event bus: %v", err)
	}
	t.Cleanup(bus.Stop)

	hub, url, _ := startHub(t, fakeChecker{"cam-01": true})
	if err := hub.AttachBus(bus); err != nil {
		t.Fatalf("Failed to attach bus: %v", err)
	}
	conn := dialHub(t, url)
	var pending []wire.Message

	sendSignal(t, conn, wire.TypeSubscribeCamera, wire.CameraRef{CameraID: "cam-01"})
	nextMessage(t, conn, &pending)

	if err := bus.PublishFrame(wire.FrameUpdate{CameraID: "cam-01", FrameNumber: 3}); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	msg := nextMessage(t, conn, &pending)
	if msg.Type != wire.TypeFrameUpdate {
		t.Errorf("Expected frame_update from bus, got %s", msg.Type)
	}
}

func TestHub_SetAllowedOrigins(t *testing.T) {
	hub := NewHub(fakeChecker{}, nil)
	hub.SetAllowedOrigins([]string{"http://dashboard.local/"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://dashboard.local", true},
		{"http://evil.example", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := hub.upgrader.CheckOrigin(req); got != tt.want {
			t.Errorf("Origin %q: expected %v, got %v", tt.origin, tt.want, got)
		}
	}

	hub.SetAllowedOrigins([]string{"*"})
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://anything")
	if !hub.upgrader.CheckOrigin(req) {
		t.Error("Expected wildcard to allow any origin")
	}
}

func TestHub_NormalCloseIsNotAnError(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelError})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	hub, url, _ := startHub(t, fakeChecker{})
	conn := dialHub(t, url)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Failed to send close: %v", err)
	}
	waitFor(t, func() bool { return hub.ClientCount() == 0 })

	if strings.Contains(logs.String(), "WebSocket read error") {
		t.Errorf("Expected no read error for a normal close, got logs:\n%s", logs.String())
	}
}
