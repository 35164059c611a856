package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Spatial-NVR/livegrid/internal/api"
	"github.com/Spatial-NVR/livegrid/internal/camera"
	"github.com/Spatial-NVR/livegrid/internal/database"
	"github.com/Spatial-NVR/livegrid/internal/wire"
)

func setupServer(t *testing.T) *Client {
	t.Helper()
	db, err := database.Open(&database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Mount("/cameras", api.NewCameraHandler(camera.NewService(db)).Routes())
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return New(Config{BaseURL: srv.URL + "/api/", Timeout: 5 * time.Second})
}

func TestCameraCRUD(t *testing.T) {
	c := setupServer(t)
	ctx := context.Background()

	cam, err := c.Create(ctx, camera.CreateRequest{ID: "cam-01", Name: "Lobby", Location: "Building A"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if cam.ID != "cam-01" || cam.Status != camera.StatusOffline {
		t.Errorf("Unexpected camera: %+v", cam)
	}

	name := "Main Lobby"
	cam, err = c.Update(ctx, "cam-01", camera.UpdateRequest{Name: &name})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if cam.Name != name {
		t.Errorf("Expected name %s, got %s", name, cam.Name)
	}

	cams, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(cams) != 1 {
		t.Errorf("Expected 1 camera, got %d", len(cams))
	}

	if err := c.Delete(ctx, "cam-01"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, err = c.Get(ctx, "cam-01")
	if !IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestStreamCommands(t *testing.T) {
	c := setupServer(t)
	ctx := context.Background()

	if _, err := c.Create(ctx, camera.CreateRequest{ID: "cam-01", Name: "Lobby"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	status, err := c.StartStream(ctx, "cam-01", &camera.StreamConfig{FPS: 5})
	if err != nil {
		t.Fatalf("StartStream failed: %v", err)
	}
	if !status.IsStreaming || status.Epoch() == 0 {
		t.Errorf("Expected active stream, got %+v", status)
	}

	_, err = c.StartStream(ctx, "cam-01", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.UserMessage() != "Camera is already streaming" {
		t.Errorf("Unexpected error: %+v", apiErr)
	}

	frame, err := c.IngestFrame(ctx, "cam-01", []wire.Detection{{ID: "d1", BBox: []float64{0, 0, 10, 10}}})
	if err != nil {
		t.Fatalf("IngestFrame failed: %v", err)
	}
	if frame.FrameNumber != 1 || frame.SessionEpoch != status.Epoch() {
		t.Errorf("Unexpected frame: %+v", frame)
	}

	active, err := c.ActiveStreams(ctx)
	if err != nil {
		t.Fatalf("ActiveStreams failed: %v", err)
	}
	if active.Total != 1 {
		t.Errorf("Expected 1 active stream, got %d", active.Total)
	}

	if _, err := c.StopStream(ctx, "cam-01"); err != nil {
		t.Fatalf("StopStream failed: %v", err)
	}
	status, err = c.StreamStatus(ctx, "cam-01")
	if err != nil {
		t.Fatalf("StreamStatus failed: %v", err)
	}
	if status.IsStreaming {
		t.Error("Expected stream stopped")
	}
}

func TestNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.List(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", apiErr.Status)
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, Timeout: time.Second})
	_, err := c.List(context.Background())
	if err == nil {
		t.Fatal("Expected error for closed server")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("Expected transport error, got APIError %v", apiErr)
	}
}
