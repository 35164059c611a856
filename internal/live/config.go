package live

import "time"

// Config controls reconnect and timeout behavior of a Session
type Config struct {
	// BaseDelay is the first retry delay after a failure
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff
	MaxDelay time.Duration
	// MaxAttempts bounds consecutive automatic retries per channel.
	// After that the channel stays in error until Reconnect is called.
	MaxAttempts int
	// ConnectTimeout bounds a dial or a subscription acknowledgement
	ConnectTimeout time.Duration
	// PingInterval is the keepalive period while the transport is up; 0 disables it
	PingInterval time.Duration
	// WatchBuffer is the capacity of each Store watcher channel
	WatchBuffer int
}

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{
		BaseDelay:      1 * time.Second,
		MaxDelay:       30 * time.Second,
		MaxAttempts:    5,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		WatchBuffer:    64,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WatchBuffer <= 0 {
		c.WatchBuffer = def.WatchBuffer
	}
	return c
}

// Backoff returns the delay before retry number attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay and never below BaseDelay.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}
