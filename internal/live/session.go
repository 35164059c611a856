// Package live coordinates per-camera subscriptions over one shared live
// event channel and keeps the latest frame of every subscribed camera.
//
// A Session runs a single loop goroutine that owns the transport, the
// reference-counted channels and all store writes. Public methods post
// requests to the loop and wait for it to answer.
package live

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Spatial-NVR/livegrid/internal/metrics"
	"github.com/Spatial-NVR/livegrid/internal/wire"
)

var (
	// ErrClosed is returned by calls on a stopped session
	ErrClosed = errors.New("live session closed")
	// ErrNotSubscribed is returned by Reconnect for cameras without a channel
	ErrNotSubscribed = errors.New("camera not subscribed")
)

const (
	errMaxAttempts = "max reconnect attempts reached"
	errTimeout     = "connection timeout"
)

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records session metrics on c
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Session) {
		s.metrics = c
	}
}

// Session multiplexes camera subscriptions onto one transport
type Session struct {
	cfg     Config
	dialer  Dialer
	store   *Store
	logger  *slog.Logger
	metrics *metrics.Collector

	inbox   chan event
	quit    chan struct{}
	stopped chan struct{}
	started atomic.Bool
	once    sync.Once

	// loop state
	runCtx     context.Context
	mux        *mux
	conn       Conn
	gen        uint64
	dialing    bool
	dialCancel context.CancelFunc
	ping       *time.Ticker
}

// New creates a session. Run must be called to start it.
func New(cfg Config, dialer Dialer, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:     cfg,
		dialer:  dialer,
		store:   NewStore(cfg.WatchBuffer),
		logger:  slog.Default().With("component", "live"),
		inbox:   make(chan event, 256),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		mux:     newMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the live state store
func (s *Session) Store() *Store {
	return s.store
}

// Config returns the effective configuration
func (s *Session) Config() Config {
	return s.cfg
}

// events handled by the loop

type event interface{}

type subscribeReq struct {
	cameraID string
	reply    chan error
}

type unsubscribeReq struct {
	cameraID string
	reply    chan error
}

type reconnectReq struct {
	cameraID string // empty for all
	reply    chan error
}

type dialResult struct {
	gen  uint64
	conn Conn
	err  error
}

type inbound struct {
	gen  uint64
	data []byte
}

type connLost struct {
	gen uint64
	err error
}

type retryFire struct {
	cameraID string
	token    uint64
}

type timeoutFire struct {
	cameraID string
	token    uint64
}

// Run processes session events until ctx is cancelled or Close is called
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("live session already running")
	}
	defer close(s.stopped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.runCtx = ctx

	s.logger.Info("Live session started")
	defer s.teardown()

	for {
		var pingC <-chan time.Time
		if s.ping != nil {
			pingC = s.ping.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return nil
		case <-pingC:
			s.sendPing()
		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

// Close stops the session and waits for the loop to exit
func (s *Session) Close() error {
	s.once.Do(func() { close(s.quit) })
	if s.started.Load() {
		<-s.stopped
	}
	return nil
}

func (s *Session) teardown() {
	for _, ch := range s.mux.list() {
		ch.stopTimers()
	}
	s.mux = newMux()
	s.closeTransport()
	s.store.purgeAll()
	s.metrics.LiveChannels(s.mux.countByState())
	s.logger.Info("Live session stopped")
}

// Subscribe adds a consumer for a camera, opening its channel on the first one
func (s *Session) Subscribe(ctx context.Context, cameraID string) error {
	if cameraID == "" {
		return fmt.Errorf("camera id is required")
	}
	return s.call(ctx, subscribeReq{cameraID: cameraID, reply: make(chan error, 1)})
}

// Unsubscribe removes a consumer; the channel closes with the last one.
// Unknown cameras are ignored.
func (s *Session) Unsubscribe(ctx context.Context, cameraID string) error {
	return s.call(ctx, unsubscribeReq{cameraID: cameraID, reply: make(chan error, 1)})
}

// Reconnect resets the retry count of a camera and retries immediately
func (s *Session) Reconnect(ctx context.Context, cameraID string) error {
	if cameraID == "" {
		return ErrNotSubscribed
	}
	return s.call(ctx, reconnectReq{cameraID: cameraID, reply: make(chan error, 1)})
}

// ReconnectAll retries every channel that is not connected
func (s *Session) ReconnectAll(ctx context.Context) error {
	return s.call(ctx, reconnectReq{reply: make(chan error, 1)})
}

func (s *Session) call(ctx context.Context, ev event) error {
	var reply chan error
	switch req := ev.(type) {
	case subscribeReq:
		reply = req.reply
	case unsubscribeReq:
		reply = req.reply
	case reconnectReq:
		reply = req.reply
	}

	select {
	case s.inbox <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrClosed
	case <-s.stopped:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrClosed
	}
}

// post delivers an event from a timer or transport goroutine
func (s *Session) post(ev event) bool {
	select {
	case s.inbox <- ev:
		return true
	case <-s.quit:
		return false
	case <-s.stopped:
		return false
	}
}

func (s *Session) handle(ev event) {
	switch e := ev.(type) {
	case subscribeReq:
		s.subscribe(e.cameraID)
		e.reply <- nil
	case unsubscribeReq:
		s.unsubscribe(e.cameraID)
		e.reply <- nil
	case reconnectReq:
		e.reply <- s.reconnect(e.cameraID)
	case dialResult:
		s.handleDial(e)
	case inbound:
		if e.gen == s.gen && s.conn != nil {
			s.handleInbound(e.data)
		}
	case connLost:
		if e.gen == s.gen && s.conn != nil {
			s.logger.Warn("Live channel disconnected", "error", e.err)
			s.dropTransport(fmt.Sprintf("disconnected: %v", e.err))
		}
	case retryFire:
		ch := s.mux.get(e.cameraID)
		if ch == nil || ch.token != e.token {
			return
		}
		ch.retry = nil
		s.metrics.LiveReconnect()
		s.attempt(ch)
	case timeoutFire:
		ch := s.mux.get(e.cameraID)
		if ch == nil || ch.token != e.token || ch.state != StateConnecting {
			return
		}
		ch.timeout = nil
		s.failChannel(ch, errTimeout)
	}
}

func (s *Session) subscribe(cameraID string) {
	ch, opened := s.mux.acquire(cameraID)
	if opened {
		s.logger.Debug("Opening channel", "camera_id", cameraID)
		s.attempt(ch)
		return
	}
	s.publish(ch)
}

func (s *Session) unsubscribe(cameraID string) {
	ch, closed := s.mux.release(cameraID)
	if ch == nil {
		return
	}
	if !closed {
		s.publish(ch)
		return
	}

	ch.stopTimers()
	ch.token++
	if s.conn != nil {
		s.send(wire.TypeUnsubscribeCamera, wire.CameraRef{CameraID: cameraID})
	}
	ch.disconnect()
	s.store.purge(cameraID)
	s.metrics.LiveChannels(s.mux.countByState())
	s.logger.Debug("Closed channel", "camera_id", cameraID)

	if s.mux.len() == 0 {
		s.closeTransport()
	}
}

func (s *Session) reconnect(cameraID string) error {
	if cameraID != "" {
		ch := s.mux.get(cameraID)
		if ch == nil {
			return fmt.Errorf("failed to reconnect %s: %w", cameraID, ErrNotSubscribed)
		}
		s.restart(ch)
		return nil
	}
	for _, ch := range s.mux.list() {
		s.restart(ch)
	}
	return nil
}

// restart resets the retry budget and retries now unless already connected
func (s *Session) restart(ch *channel) {
	ch.attempts = 0
	ch.gaveUp = false
	if ch.state == StateConnected {
		s.publish(ch)
		return
	}
	s.attempt(ch)
}

// attempt starts a new subscribe attempt for ch
func (s *Session) attempt(ch *channel) {
	token := ch.nextToken()
	ch.begin(uuid.NewString())

	cameraID := ch.cameraID
	ch.timeout = time.AfterFunc(s.cfg.ConnectTimeout, func() {
		s.post(timeoutFire{cameraID: cameraID, token: token})
	})
	s.publish(ch)

	if s.conn != nil {
		s.sendSubscribe(ch)
		return
	}
	s.ensureDial()
}

func (s *Session) sendSubscribe(ch *channel) {
	s.send(wire.TypeSubscribeCamera, wire.CameraRef{CameraID: ch.cameraID, RequestID: ch.requestID})
}

// failChannel moves ch to error and schedules a retry
func (s *Session) failChannel(ch *channel, msg string) {
	ch.fail(msg)
	s.logger.Warn("Channel error", "camera_id", ch.cameraID, "error", msg, "attempt", ch.attempts+1)
	s.scheduleRetry(ch)
}

func (s *Session) scheduleRetry(ch *channel) {
	ch.attempts++
	token := ch.nextToken()
	if ch.attempts > s.cfg.MaxAttempts {
		ch.gaveUp = true
		if ch.state != StateError {
			ch.state = StateError
			ch.lastError = errMaxAttempts
		}
		s.logger.Warn("Giving up on channel", "camera_id", ch.cameraID, "attempts", ch.attempts-1)
		s.publish(ch)
		return
	}

	delay := s.cfg.Backoff(ch.attempts)
	cameraID := ch.cameraID
	ch.retry = time.AfterFunc(delay, func() {
		s.post(retryFire{cameraID: cameraID, token: token})
	})
	s.logger.Debug("Scheduled channel retry", "camera_id", cameraID, "attempt", ch.attempts, "delay", delay)
	s.publish(ch)
}

func (s *Session) ensureDial() {
	if s.dialing || s.conn != nil || s.runCtx == nil {
		return
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithTimeout(s.runCtx, s.cfg.ConnectTimeout)
	s.dialing = true
	s.dialCancel = cancel

	go func() {
		conn, err := s.dialer.Dial(ctx)
		cancel()
		if !s.post(dialResult{gen: gen, conn: conn, err: err}) && conn != nil {
			conn.Close()
		}
	}()
}

func (s *Session) handleDial(r dialResult) {
	if r.gen != s.gen || !s.dialing {
		if r.conn != nil {
			r.conn.Close()
		}
		return
	}
	s.dialing = false
	s.dialCancel = nil

	if r.err != nil {
		s.logger.Warn("Failed to connect live channel", "error", r.err)
		for _, ch := range s.mux.list() {
			if ch.state == StateConnecting {
				s.failChannel(ch, fmt.Sprintf("connect_error: %v", r.err))
			}
		}
		return
	}

	if s.mux.len() == 0 {
		r.conn.Close()
		return
	}

	s.conn = r.conn
	s.logger.Info("Live channel connected")
	go s.read(r.gen, r.conn)
	if s.cfg.PingInterval > 0 {
		s.ping = time.NewTicker(s.cfg.PingInterval)
	}

	for _, ch := range s.mux.list() {
		if ch.state == StateConnecting {
			s.sendSubscribe(ch)
		}
	}
}

func (s *Session) read(gen uint64, conn Conn) {
	for {
		data, err := conn.Receive()
		if err != nil {
			s.post(connLost{gen: gen, err: err})
			return
		}
		if !s.post(inbound{gen: gen, data: data}) {
			return
		}
	}
}

// dropTransport closes the transport after a failure; live channels fall
// back to disconnected and retry with backoff
func (s *Session) dropTransport(reason string) {
	s.closeTransport()
	for _, ch := range s.mux.list() {
		if !ch.active() {
			continue
		}
		ch.disconnect()
		ch.lastError = reason
		s.scheduleRetry(ch)
	}
}

func (s *Session) closeTransport() {
	if s.ping != nil {
		s.ping.Stop()
		s.ping = nil
	}
	if s.dialing {
		if s.dialCancel != nil {
			s.dialCancel()
		}
		s.dialing = false
		s.dialCancel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.logger.Info("Live channel closed")
	}
	s.gen++
}

func (s *Session) send(t wire.Type, payload interface{}) {
	if s.conn == nil {
		return
	}
	data, err := wire.Encode(t, payload)
	if err != nil {
		s.logger.Error("Failed to encode signal", "type", t, "error", err)
		return
	}
	if err := s.conn.Send(data); err != nil {
		s.logger.Warn("Failed to send signal", "type", t, "error", err)
		s.dropTransport(fmt.Sprintf("send failed: %v", err))
	}
}

func (s *Session) sendPing() {
	if s.conn != nil {
		s.send(wire.TypePing, nil)
	}
}

// handleInbound processes one transport message. The server may batch
// several events separated by newlines.
func (s *Session) handleInbound(data []byte) {
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		msg, err := wire.Parse(line)
		if err != nil {
			s.logger.Warn("Dropping malformed event", "error", err)
			continue
		}
		s.dispatch(msg)
		// a failed send inside dispatch may have dropped the transport
		if s.conn == nil {
			return
		}
	}
}

func (s *Session) dispatch(msg wire.Message) {
	switch msg.Type {
	case wire.TypeSubscribed:
		var ref wire.CameraRef
		if err := msg.Decode(&ref); err != nil {
			s.logger.Warn("Invalid subscribed event", "error", err)
			return
		}
		ch := s.mux.get(ref.CameraID)
		if ch == nil {
			return
		}
		if ch.ack(ref.RequestID) {
			s.logger.Debug("Channel connected", "camera_id", ref.CameraID)
			s.publish(ch)
		}

	case wire.TypeSubscribeError:
		var se wire.SubscribeError
		if err := msg.Decode(&se); err != nil {
			s.logger.Warn("Invalid subscribe_error event", "error", err)
			return
		}
		ch := s.mux.get(se.CameraID)
		if ch == nil || ch.state != StateConnecting {
			return
		}
		if se.RequestID != "" && se.RequestID != ch.requestID {
			return
		}
		message := se.Message
		if message == "" {
			message = "subscription rejected"
		}
		s.failChannel(ch, message)

	case wire.TypeFrameUpdate:
		var fu wire.FrameUpdate
		if err := msg.Decode(&fu); err != nil {
			s.logger.Warn("Invalid frame_update event", "error", err)
			s.metrics.LiveEvent(string(msg.Type), "invalid")
			return
		}
		if s.mux.get(fu.CameraID) == nil {
			s.logger.Debug("Dropping frame for unsubscribed camera", "camera_id", fu.CameraID)
			s.metrics.LiveEvent(string(msg.Type), "dropped")
			return
		}
		if s.store.apply(fu, time.Now()) {
			s.metrics.LiveEvent(string(msg.Type), "applied")
		} else {
			s.metrics.LiveEvent(string(msg.Type), "stale")
		}

	case wire.TypeStreamStatus:
		var st wire.StreamStatus
		if err := msg.Decode(&st); err != nil {
			s.logger.Warn("Invalid stream_status event", "error", err)
			s.metrics.LiveEvent(string(msg.Type), "invalid")
			return
		}
		if s.mux.get(st.CameraID) == nil {
			s.metrics.LiveEvent(string(msg.Type), "dropped")
			return
		}
		s.store.setStatus(st)
		s.metrics.LiveEvent(string(msg.Type), "applied")

	case wire.TypePong:
	default:
		s.logger.Debug("Ignoring unknown event", "type", msg.Type)
	}
}

// publish mirrors a channel into the store
func (s *Session) publish(ch *channel) {
	if s.mux.get(ch.cameraID) != ch {
		return
	}
	s.store.setChannel(ch.info())
	s.metrics.LiveChannels(s.mux.countByState())
}

// Lease is one consumer's hold on a camera subscription
type Lease struct {
	session  *Session
	cameraID string
	once     sync.Once
}

// Acquire subscribes to a camera and returns a lease releasing it
func (s *Session) Acquire(ctx context.Context, cameraID string) (*Lease, error) {
	if err := s.Subscribe(ctx, cameraID); err != nil {
		return nil, err
	}
	return &Lease{session: s, cameraID: cameraID}, nil
}

// CameraID returns the leased camera
func (l *Lease) CameraID() string {
	return l.cameraID
}

// Release drops the subscription. Calls after the first are no-ops.
func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = l.session.Unsubscribe(ctx, l.cameraID)
	})
	return err
}
