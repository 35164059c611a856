package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Spatial-NVR/livegrid/internal/logging"
)

// HealthCheck reports the health of one dependency
type HealthCheck func(ctx context.Context) error

// SystemHandler serves health and recent logs
type SystemHandler struct {
	logs    *logging.RingBuffer
	checks  []namedCheck
	started time.Time
}

type namedCheck struct {
	name  string
	check HealthCheck
}

// HealthStatus is the body of a health response
type HealthStatus struct {
	Status     string            `json:"status"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components"`
}

// NewSystemHandler creates a system handler serving logs from buffer
func NewSystemHandler(buffer *logging.RingBuffer) *SystemHandler {
	return &SystemHandler{logs: buffer, started: time.Now()}
}

// AddCheck registers a named health check
func (h *SystemHandler) AddCheck(name string, check HealthCheck) {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

// Routes returns the system routes
func (h *SystemHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.Health)
	r.Get("/logs", h.Logs)
	r.Get("/logs/stream", h.LogStream)

	return r
}

// Health runs every registered check
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:     "healthy",
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: make(map[string]string, len(h.checks)),
	}
	for _, c := range h.checks {
		if err := c.check(ctx); err != nil {
			status.Components[c.name] = "error: " + err.Error()
			status.Status = "unhealthy"
			continue
		}
		status.Components[c.name] = "ok"
	}

	if status.Status != "healthy" {
		JSON(w, http.StatusServiceUnavailable, status)
		return
	}
	OK(w, status)
}

// Logs returns recent log entries. Query parameters: limit (default 200),
// level (minimum level) and component.
func (h *SystemHandler) Logs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		Unavailable(w, "Log capture is disabled")
		return
	}

	q := r.URL.Query()
	limit := 200
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	filter := logging.Filter{MinLevel: slog.LevelDebug, Component: q.Get("component")}
	if lvl := q.Get("level"); lvl != "" {
		filter.MinLevel = logging.ParseLevel(lvl)
	}

	entries := h.logs.Recent(limit, filter)
	List(w, r, entries, len(entries))
}

// LogStream streams new log entries as server-sent events
func (h *SystemHandler) LogStream(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		Unavailable(w, "Log capture is disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.logs.Subscribe()
	defer h.logs.Unsubscribe(ch)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry := <-ch:
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
