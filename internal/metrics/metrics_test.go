package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_Handler(t *testing.T) {
	c := New("test")
	c.HubClients(2)
	c.HubMessage("frame_update", "out")
	c.LiveEvent("frame_update", "stale")
	c.LiveChannels(map[string]int{"connected": 3})
	c.LiveReconnect()
	c.Command("start_stream", "success")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"test_hub_clients 2",
		`test_hub_messages_total{direction="out",type="frame_update"} 1`,
		`test_live_events_total{outcome="stale",type="frame_update"} 1`,
		`test_live_channels{state="connected"} 3`,
		"test_live_reconnects_total 1",
		`test_stream_commands_total{command="start_stream",result="success"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.HubClients(1)
	c.HubSubscriptions(1)
	c.HubMessage("ping", "in")
	c.LiveEvent("frame_update", "applied")
	c.LiveChannels(map[string]int{"error": 1})
	c.LiveReconnect()
	c.Command("stop_stream", "error")

	if c.Registry() != nil {
		t.Error("Expected nil registry for nil collector")
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	// Each collector owns its registry, so creating two must not panic
	a := New("dup")
	b := New("dup")
	if a.Registry() == b.Registry() {
		t.Error("Expected distinct registries")
	}
}
