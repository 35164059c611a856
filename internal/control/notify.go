package control

import (
	"log/slog"
	"time"
)

// Level is the severity of a notification
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a user-visible command result
type Notification struct {
	Level    Level     `json:"level"`
	Message  string    `json:"message"`
	CameraID string    `json:"camera_id,omitempty"`
	Time     time.Time `json:"time"`
}

// Notifier receives command result notifications
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(n Notification)

// Notify implements Notifier
func (f NotifierFunc) Notify(n Notification) { f(n) }

// ChanNotifier delivers notifications on a buffered channel. When the buffer
// is full new notifications are dropped.
type ChanNotifier struct {
	C chan Notification
}

// NewChanNotifier creates a ChanNotifier with the given buffer size
func NewChanNotifier(size int) *ChanNotifier {
	if size <= 0 {
		size = 16
	}
	return &ChanNotifier{C: make(chan Notification, size)}
}

// Notify implements Notifier
func (c *ChanNotifier) Notify(n Notification) {
	select {
	case c.C <- n:
	default:
	}
}

// LogNotifier writes notifications to a logger
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier
func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if n.Level == LevelError {
		logger.Error(n.Message, "camera_id", n.CameraID)
		return
	}
	logger.Info(n.Message, "camera_id", n.CameraID)
}
