// Package core provides the embedded event bus that carries live camera
// events from producers to the live hub.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/Spatial-NVR/livegrid/internal/wire"
)

// DefaultNATSPort is used when no port is configured
const DefaultNATSPort = 4222

// Subject layout for camera events
const (
	SubjectFrames = "cameras.%s.frames"
	SubjectStatus = "cameras.%s.status"

	SubjectAllFrames = "cameras.*.frames"
	SubjectAllStatus = "cameras.*.status"
)

// EventBus provides pub/sub messaging over an embedded NATS server
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.RWMutex
}

// EventBusConfig configures the event bus
type EventBusConfig struct {
	// Host for the NATS server (default: 127.0.0.1)
	Host string
	// Port for the NATS server (default: 4222, -1 picks a random port)
	Port int
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Host: "127.0.0.1",
		Port: DefaultNATSPort,
	}
}

// NewEventBus starts an embedded NATS server and connects to it
func NewEventBus(cfg EventBusConfig, logger *slog.Logger) (*EventBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultNATSPort
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("livegrid"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}

	eb.logger.Info("Event bus started", "url", ns.ClientURL())
	return eb, nil
}

// Conn returns the NATS connection for direct use
func (eb *EventBus) Conn() *nats.Conn {
	return eb.conn
}

// ClientURL returns the NATS client URL
func (eb *EventBus) ClientURL() string {
	return eb.server.ClientURL()
}

// Publish publishes data as JSON to a subject
func (eb *EventBus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	eb.subsMu.Lock()
	eb.subs[subject] = append(eb.subs[subject], sub)
	eb.subsMu.Unlock()

	return sub, nil
}

// Unsubscribe removes all subscriptions for a subject
func (eb *EventBus) Unsubscribe(subject string) {
	eb.subsMu.Lock()
	defer eb.subsMu.Unlock()

	for _, sub := range eb.subs[subject] {
		_ = sub.Unsubscribe()
	}
	delete(eb.subs, subject)
}

// Flush waits until the server has processed all published messages
func (eb *EventBus) Flush() error {
	return eb.conn.Flush()
}

// Stop drains the connection and shuts the server down
func (eb *EventBus) Stop() {
	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("Event bus stopped")
}

// HealthCheck verifies the connection to the embedded server
func (eb *EventBus) HealthCheck(ctx context.Context) error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := eb.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("NATS flush failed: %w", err)
	}
	return nil
}

// subjectToken makes a camera id safe for use as a single subject token
func subjectToken(cameraID string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(cameraID)
}

// FramesSubject returns the frames subject of a camera
func FramesSubject(cameraID string) string {
	return fmt.Sprintf(SubjectFrames, subjectToken(cameraID))
}

// StatusSubject returns the stream status subject of a camera
func StatusSubject(cameraID string) string {
	return fmt.Sprintf(SubjectStatus, subjectToken(cameraID))
}

// PublishFrame publishes a frame update on the camera's frames subject
func (eb *EventBus) PublishFrame(frame wire.FrameUpdate) error {
	return eb.Publish(FramesSubject(frame.CameraID), frame)
}

// PublishStreamStatus publishes a stream status on the camera's status subject
func (eb *EventBus) PublishStreamStatus(status wire.StreamStatus) error {
	return eb.Publish(StatusSubject(status.CameraID), status)
}

// SubscribeFrames delivers frame updates of every camera to handler
func (eb *EventBus) SubscribeFrames(handler func(wire.FrameUpdate)) (*nats.Subscription, error) {
	return eb.Subscribe(SubjectAllFrames, func(msg *nats.Msg) {
		var frame wire.FrameUpdate
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			eb.logger.Error("Failed to unmarshal frame", "subject", msg.Subject, "error", err)
			return
		}
		handler(frame)
	})
}

// SubscribeStatus delivers stream status events of every camera to handler
func (eb *EventBus) SubscribeStatus(handler func(wire.StreamStatus)) (*nats.Subscription, error) {
	return eb.Subscribe(SubjectAllStatus, func(msg *nats.Msg) {
		var status wire.StreamStatus
		if err := json.Unmarshal(msg.Data, &status); err != nil {
			eb.logger.Error("Failed to unmarshal stream status", "subject", msg.Subject, "error", err)
			return
		}
		handler(status)
	})
}
