// Package api provides HTTP API handlers and the live websocket hub
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Spatial-NVR/livegrid/internal/camera"
	"github.com/Spatial-NVR/livegrid/internal/core"
	"github.com/Spatial-NVR/livegrid/internal/metrics"
	"github.com/Spatial-NVR/livegrid/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
	checkTimeout   = 5 * time.Second
)

// Subscribe rejection messages
const (
	msgNotStreaming   = "camera is not streaming"
	msgNotFound       = "camera not found"
	msgMissingCamera  = "camera_id is required"
	msgCheckFailed    = "failed to check camera"
	msgInvalidRequest = "invalid subscribe request"
)

// StreamChecker reports whether a camera is streaming
type StreamChecker interface {
	IsStreaming(ctx context.Context, cameraID string) (bool, error)
}

// Client is one websocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.Mutex
	closed        bool
	subscriptions map[string]bool
}

// Hub maintains the set of live clients and routes camera events to the
// clients subscribed to that camera
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	checker  StreamChecker
	metrics  *metrics.Collector
	upgrader websocket.Upgrader
	logger   *slog.Logger

	// nil allows any origin
	origins map[string]bool
}

// NewHub creates a hub that only accepts subscriptions to cameras checker
// reports as streaming. m may be nil.
func NewHub(checker StreamChecker, m *metrics.Collector) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		checker:    checker,
		metrics:    m,
		logger:     slog.Default().With("component", "websocket-hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	h.upgrader.CheckOrigin = h.checkOrigin
	return h
}

// SetAllowedOrigins restricts websocket upgrades to the given origins.
// "*" allows any origin; requests without an Origin header are always allowed.
func (h *Hub) SetAllowedOrigins(origins []string) {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	h.mu.Lock()
	h.origins = allowed
	h.mu.Unlock()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.origins == nil || h.origins["*"] || h.origins[origin]
}

// Run starts the hub's main loop and blocks until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.HubClients(n)
			h.logger.Debug("Client connected", "total_clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.metrics.HubSubscriptions(-client.close())
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.HubClients(n)
			h.logger.Debug("Client disconnected", "total_clients", n)

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.metrics.HubSubscriptions(-client.close())
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.metrics.HubClients(0)
			return
		}
	}
}

// AttachBus forwards frame and stream status events from the event bus
func (h *Hub) AttachBus(bus *core.EventBus) error {
	if _, err := bus.SubscribeFrames(h.BroadcastFrame); err != nil {
		return err
	}
	if _, err := bus.SubscribeStatus(h.BroadcastStatus); err != nil {
		return err
	}
	return nil
}

// BroadcastFrame sends a frame update to the clients subscribed to its camera
func (h *Hub) BroadcastFrame(frame wire.FrameUpdate) {
	h.broadcastToCamera(frame.CameraID, wire.TypeFrameUpdate, frame)
}

// BroadcastStatus sends a stream status to the clients subscribed to its camera
func (h *Hub) BroadcastStatus(status wire.StreamStatus) {
	h.broadcastToCamera(status.CameraID, wire.TypeStreamStatus, status)
}

func (h *Hub) broadcastToCamera(cameraID string, t wire.Type, payload interface{}) {
	data, err := wire.Encode(t, payload)
	if err != nil {
		h.logger.Error("Failed to marshal camera message", "type", t, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.subscribed(cameraID) {
			if !client.enqueue(data) {
				h.logger.Warn("Client buffer full, dropping message", "camera_id", cameraID, "type", t)
				continue
			}
			h.metrics.HubMessage(string(t), "out")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients subscribed to a camera
func (h *Hub) SubscriberCount(cameraID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for client := range h.clients {
		if client.subscribed(cameraID) {
			n++
		}
	}
	return n
}

// HandleWebSocket handles WebSocket connections
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) subscribed(cameraID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[cameraID]
}

// enqueue queues data for the write pump; false when the buffer is full or
// the client is closed
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close closes the send channel and returns the number of dropped subscriptions
func (c *Client) close() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}
	c.closed = true
	close(c.send)
	n := len(c.subscriptions)
	c.subscriptions = make(map[string]bool)
	return n
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", "error", err)
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
// Queued messages are batched into one frame separated by newlines.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) reply(t wire.Type, payload interface{}) {
	data, err := wire.Encode(t, payload)
	if err != nil {
		c.hub.logger.Error("Failed to marshal reply", "type", t, "error", err)
		return
	}
	if c.enqueue(data) {
		c.hub.metrics.HubMessage(string(t), "out")
	}
}

// handleMessage handles incoming signals from the client
func (c *Client) handleMessage(data []byte) {
	msg, err := wire.Parse(data)
	if err != nil {
		c.hub.logger.Debug("Ignoring malformed message", "error", err)
		return
	}
	c.hub.metrics.HubMessage(string(msg.Type), "in")

	switch msg.Type {
	case wire.TypePing:
		c.reply(wire.TypePong, nil)

	case wire.TypeSubscribeCamera:
		var ref wire.CameraRef
		if err := msg.Decode(&ref); err != nil {
			c.reply(wire.TypeSubscribeError, wire.SubscribeError{Message: msgInvalidRequest})
			return
		}
		c.subscribe(ref)

	case wire.TypeUnsubscribeCamera:
		var ref wire.CameraRef
		if err := msg.Decode(&ref); err != nil {
			return
		}
		c.mu.Lock()
		removed := c.subscriptions[ref.CameraID]
		delete(c.subscriptions, ref.CameraID)
		c.mu.Unlock()
		if removed {
			c.hub.metrics.HubSubscriptions(-1)
		}

	default:
		c.hub.logger.Debug("Ignoring unknown message type", "type", msg.Type)
	}
}

// subscribe admits a subscription only for a streaming camera
func (c *Client) subscribe(ref wire.CameraRef) {
	reject := func(message string) {
		c.reply(wire.TypeSubscribeError, wire.SubscribeError{
			CameraID:  ref.CameraID,
			RequestID: ref.RequestID,
			Message:   message,
		})
	}

	if ref.CameraID == "" {
		reject(msgMissingCamera)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	streaming, err := c.hub.checker.IsStreaming(ctx, ref.CameraID)
	switch {
	case errors.Is(err, camera.ErrNotFound):
		reject(msgNotFound)
		return
	case err != nil:
		c.hub.logger.Error("Failed to check stream state", "camera_id", ref.CameraID, "error", err)
		reject(msgCheckFailed)
		return
	case !streaming:
		reject(msgNotStreaming)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	added := !c.subscriptions[ref.CameraID]
	c.subscriptions[ref.CameraID] = true
	c.mu.Unlock()
	if added {
		c.hub.metrics.HubSubscriptions(1)
	}

	c.reply(wire.TypeSubscribed, wire.CameraRef{CameraID: ref.CameraID, RequestID: ref.RequestID})
}
