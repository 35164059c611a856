package live

import "time"

// State is the lifecycle state of a channel connection
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// ChannelInfo is a read-only view of a channel connection
type ChannelInfo struct {
	CameraID  string `json:"camera_id"`
	State     State  `json:"state"`
	LastError string `json:"last_error,omitempty"`
	Attempts  int    `json:"attempts"`
	Refs      int    `json:"refs"`
	// GaveUp is set once automatic retries are exhausted
	GaveUp bool `json:"gave_up,omitempty"`
}

// channel is one camera subscription on the shared transport. It is owned by
// the session loop and never touched from other goroutines.
type channel struct {
	cameraID  string
	state     State
	lastError string
	attempts  int
	refs      int
	gaveUp    bool

	// requestID identifies the current subscribe attempt; acks for any
	// other id are stale
	requestID string
	// token invalidates timers armed for earlier attempts
	token uint64

	retry   *time.Timer
	timeout *time.Timer
}

func newChannel(cameraID string) *channel {
	return &channel{cameraID: cameraID, state: StateDisconnected}
}

func (c *channel) info() ChannelInfo {
	return ChannelInfo{
		CameraID:  c.cameraID,
		State:     c.state,
		LastError: c.lastError,
		Attempts:  c.attempts,
		Refs:      c.refs,
		GaveUp:    c.gaveUp,
	}
}

// nextToken stops pending timers and returns a fresh attempt token
func (c *channel) nextToken() uint64 {
	c.stopTimers()
	c.token++
	return c.token
}

func (c *channel) stopTimers() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
}

// begin moves the channel to connecting for a new subscribe attempt
func (c *channel) begin(requestID string) {
	c.state = StateConnecting
	c.requestID = requestID
	c.gaveUp = false
}

// ack completes the current attempt. Acks for other attempts are ignored.
func (c *channel) ack(requestID string) bool {
	if c.state != StateConnecting {
		return false
	}
	if requestID != "" && requestID != c.requestID {
		return false
	}
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
	c.state = StateConnected
	c.lastError = ""
	c.attempts = 0
	return true
}

func (c *channel) fail(msg string) {
	c.state = StateError
	c.lastError = msg
	c.requestID = ""
}

func (c *channel) disconnect() {
	c.state = StateDisconnected
	c.requestID = ""
}

// active reports whether the channel is subscribed or trying to be
func (c *channel) active() bool {
	return c.state == StateConnecting || c.state == StateConnected
}
