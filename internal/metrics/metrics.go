// Package metrics exposes prometheus collectors for the live hub and the
// dashboard session. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all livegrid metrics on a private registry
type Collector struct {
	registry *prometheus.Registry

	hubClients       prometheus.Gauge
	hubMessages      *prometheus.CounterVec
	hubSubscriptions prometheus.Gauge
	liveChannels     *prometheus.GaugeVec
	liveEvents       *prometheus.CounterVec
	liveReconnects   prometheus.Counter
	commandsTotal    *prometheus.CounterVec
}

// New creates a collector whose metric names start with prefix
func New(prefix string) *Collector {
	if prefix == "" {
		prefix = "livegrid"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		hubClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_hub_clients",
			Help: "Number of connected live channel clients",
		}),
		hubMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_hub_messages_total",
			Help: "Live channel messages handled by the hub",
		}, []string{"type", "direction"}),
		hubSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_hub_subscriptions",
			Help: "Camera subscriptions across all hub clients",
		}),
		liveChannels: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_live_channels",
			Help: "Channel connections of the dashboard session by state",
		}, []string{"state"}),
		liveEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_live_events_total",
			Help: "Inbound live events by type and outcome",
		}, []string{"type", "outcome"}),
		liveReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_live_reconnects_total",
			Help: "Channel reconnect attempts",
		}),
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_stream_commands_total",
			Help: "Start/stop stream commands by result",
		}, []string{"command", "result"}),
	}
}

// Handler serves the registry in the prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// HubClients sets the number of connected hub clients
func (c *Collector) HubClients(n int) {
	if c == nil {
		return
	}
	c.hubClients.Set(float64(n))
}

// HubSubscriptions adjusts the hub subscription gauge
func (c *Collector) HubSubscriptions(delta int) {
	if c == nil {
		return
	}
	c.hubSubscriptions.Add(float64(delta))
}

// HubMessage counts a hub message; direction is "in" or "out"
func (c *Collector) HubMessage(msgType, direction string) {
	if c == nil {
		return
	}
	c.hubMessages.WithLabelValues(msgType, direction).Inc()
}

// LiveChannels records how many channels are in each state
func (c *Collector) LiveChannels(byState map[string]int) {
	if c == nil {
		return
	}
	c.liveChannels.Reset()
	for state, n := range byState {
		c.liveChannels.WithLabelValues(state).Set(float64(n))
	}
}

// LiveEvent counts an inbound event with its outcome (applied, stale, dropped)
func (c *Collector) LiveEvent(eventType, outcome string) {
	if c == nil {
		return
	}
	c.liveEvents.WithLabelValues(eventType, outcome).Inc()
}

// LiveReconnect counts a channel retry
func (c *Collector) LiveReconnect() {
	if c == nil {
		return
	}
	c.liveReconnects.Inc()
}

// Command counts a stream command result (success or error)
func (c *Collector) Command(command, result string) {
	if c == nil {
		return
	}
	c.commandsTotal.WithLabelValues(command, result).Inc()
}
