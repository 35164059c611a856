package camera

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Spatial-NVR/livegrid/internal/config"
	"github.com/Spatial-NVR/livegrid/internal/database"
	"github.com/Spatial-NVR/livegrid/internal/wire"
)

type recordingPublisher struct {
	mu       sync.Mutex
	statuses []wire.StreamStatus
	frames   []wire.FrameUpdate
}

func (p *recordingPublisher) PublishStreamStatus(st wire.StreamStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, st)
	return nil
}

func (p *recordingPublisher) PublishFrame(f wire.FrameUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
	return nil
}

func setupService(t *testing.T) *Service {
	t.Helper()
	db, err := database.Open(&database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return NewService(db)
}

func createCamera(t *testing.T, s *Service, id, name string) *Camera {
	t.Helper()
	cam, err := s.Create(context.Background(), CreateRequest{ID: id, Name: name, Location: "Building A"})
	if err != nil {
		t.Fatalf("Failed to create camera: %v", err)
	}
	return cam
}

func TestCreateAndGet(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()

	cam := createCamera(t, s, "cam-01", "Lobby")
	if cam.ID != "cam-01" {
		t.Errorf("Expected id cam-01, got %s", cam.ID)
	}
	if cam.Status != StatusOffline {
		t.Errorf("Expected offline, got %s", cam.Status)
	}
	if cam.StreamType != StreamRTSP {
		t.Errorf("Expected default stream type rtsp, got %s", cam.StreamType)
	}
	if cam.IsStreaming {
		t.Error("New camera should not be streaming")
	}

	got, err := s.Get(ctx, "cam-01")
	if err != nil {
		t.Fatalf("Failed to get camera: %v", err)
	}
	if got.Name != "Lobby" || got.Location != "Building A" {
		t.Errorf("Unexpected camera: %+v", got)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCreateGeneratesID(t *testing.T) {
	s := setupService(t)
	cam, err := s.Create(context.Background(), CreateRequest{Name: "Garage"})
	if err != nil {
		t.Fatalf("Failed to create camera: %v", err)
	}
	if len(cam.ID) != 36 {
		t.Errorf("Expected uuid id, got %q", cam.ID)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := setupService(t)
	createCamera(t, s, "cam-01", "Lobby")

	_, err := s.Create(context.Background(), CreateRequest{ID: "cam-01", Name: "Other"})
	if !errors.Is(err, ErrExists) {
		t.Errorf("Expected ErrExists, got %v", err)
	}
}

func TestListOrdered(t *testing.T) {
	s := setupService(t)
	createCamera(t, s, "cam-02", "Parking")
	createCamera(t, s, "cam-01", "Lobby")

	cams, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list cameras: %v", err)
	}
	if len(cams) != 2 {
		t.Fatalf("Expected 2 cameras, got %d", len(cams))
	}
	if cams[0].Name != "Lobby" || cams[1].Name != "Parking" {
		t.Errorf("Expected cameras ordered by name, got %s, %s", cams[0].Name, cams[1].Name)
	}
}

func TestUpdate(t *testing.T) {
	s := setupService(t)
	createCamera(t, s, "cam-01", "Lobby")

	name := "Main Lobby"
	status := StatusMaintenance
	cam, err := s.Update(context.Background(), "cam-01", UpdateRequest{
		Name:         &name,
		Status:       &status,
		StreamConfig: &StreamConfig{FPS: 10, Resolution: "1280x720"},
	})
	if err != nil {
		t.Fatalf("Failed to update camera: %v", err)
	}
	if cam.Name != "Main Lobby" {
		t.Errorf("Expected updated name, got %s", cam.Name)
	}
	if cam.Location != "Building A" {
		t.Errorf("Expected location unchanged, got %s", cam.Location)
	}
	if cam.Status != StatusMaintenance {
		t.Errorf("Expected maintenance, got %s", cam.Status)
	}
	if cam.StreamConfig == nil || cam.StreamConfig.FPS != 10 {
		t.Errorf("Expected stream config fps 10, got %+v", cam.StreamConfig)
	}

	if _, err := s.Update(context.Background(), "missing", UpdateRequest{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStartStopStream(t *testing.T) {
	s := setupService(t)
	pub := &recordingPublisher{}
	s.SetPublisher(pub)
	ctx := context.Background()
	createCamera(t, s, "cam-01", "Lobby")

	st, err := s.StartStream(ctx, "cam-01", nil)
	if err != nil {
		t.Fatalf("Failed to start stream: %v", err)
	}
	if !st.IsStreaming || st.Status != StatusOnline {
		t.Errorf("Expected streaming online, got %+v", st)
	}
	if st.StreamConfig == nil || st.StreamConfig.FPS != 5 {
		t.Errorf("Expected default fps 5, got %+v", st.StreamConfig)
	}
	if st.StreamInstance == nil || !st.StreamInstance.IsActive {
		t.Fatalf("Expected active stream instance, got %+v", st.StreamInstance)
	}
	if st.Epoch() == 0 {
		t.Error("Expected non-zero epoch")
	}

	if _, err := s.StartStream(ctx, "cam-01", nil); !errors.Is(err, ErrAlreadyStreaming) {
		t.Errorf("Expected ErrAlreadyStreaming, got %v", err)
	}

	streaming, err := s.IsStreaming(ctx, "cam-01")
	if err != nil || !streaming {
		t.Errorf("Expected streaming, got %v (err %v)", streaming, err)
	}

	st, err = s.StopStream(ctx, "cam-01")
	if err != nil {
		t.Fatalf("Failed to stop stream: %v", err)
	}
	if st.IsStreaming || st.Status != StatusOffline {
		t.Errorf("Expected stopped offline, got %+v", st)
	}
	if st.StreamInstance != nil {
		t.Errorf("Expected no stream instance after stop, got %+v", st.StreamInstance)
	}

	if _, err := s.StopStream(ctx, "cam-01"); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("Expected ErrNotStreaming, got %v", err)
	}
	if _, err := s.StartStream(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if len(pub.statuses) != 2 {
		t.Fatalf("Expected 2 published statuses, got %d", len(pub.statuses))
	}
	if !pub.statuses[0].IsStreaming || pub.statuses[1].IsStreaming {
		t.Errorf("Unexpected published statuses: %+v", pub.statuses)
	}
}

func TestRestartIncreasesEpoch(t *testing.T) {
	s := setupService(t)
	fixed := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()
	createCamera(t, s, "cam-01", "Lobby")

	first, err := s.StartStream(ctx, "cam-01", nil)
	if err != nil {
		t.Fatalf("Failed to start stream: %v", err)
	}
	s.StopStream(ctx, "cam-01")
	second, err := s.StartStream(ctx, "cam-01", nil)
	if err != nil {
		t.Fatalf("Failed to restart stream: %v", err)
	}

	if second.Epoch() <= first.Epoch() {
		t.Errorf("Expected epoch to increase across restarts, got %d then %d", first.Epoch(), second.Epoch())
	}
}

func TestIngestFrame(t *testing.T) {
	s := setupService(t)
	pub := &recordingPublisher{}
	s.SetPublisher(pub)
	ctx := context.Background()
	createCamera(t, s, "cam-01", "Lobby")

	if _, err := s.IngestFrame(ctx, "cam-01", nil); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("Expected ErrNotStreaming, got %v", err)
	}

	st, _ := s.StartStream(ctx, "cam-01", &StreamConfig{FPS: 10})
	detections := []wire.Detection{
		{ID: "d1", BBox: []float64{10, 20, 110, 220}, Confidence: 0.9, PersonType: wire.PersonResident},
	}

	f1, err := s.IngestFrame(ctx, "cam-01", detections)
	if err != nil {
		t.Fatalf("Failed to ingest frame: %v", err)
	}
	f2, err := s.IngestFrame(ctx, "cam-01", nil)
	if err != nil {
		t.Fatalf("Failed to ingest frame: %v", err)
	}

	if f1.FrameNumber != 1 || f2.FrameNumber != 2 {
		t.Errorf("Expected frames 1 and 2, got %d and %d", f1.FrameNumber, f2.FrameNumber)
	}
	if f1.SessionEpoch != st.Epoch() {
		t.Errorf("Expected epoch %d, got %d", st.Epoch(), f1.SessionEpoch)
	}
	if f1.TotalPersons != 1 || f1.CameraName != "Lobby" {
		t.Errorf("Unexpected frame: %+v", f1)
	}
	if len(pub.frames) != 2 {
		t.Errorf("Expected 2 published frames, got %d", len(pub.frames))
	}

	cam, _ := s.Get(ctx, "cam-01")
	if cam.FrameCount != 2 || cam.LastFrameAt == nil {
		t.Errorf("Expected frame count 2 with last frame time, got %+v", cam)
	}
}

func TestActiveStreams(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	createCamera(t, s, "cam-01", "Lobby")
	createCamera(t, s, "cam-02", "Parking")
	s.StartStream(ctx, "cam-02", nil)

	active, err := s.ActiveStreams(ctx)
	if err != nil {
		t.Fatalf("Failed to list active streams: %v", err)
	}
	if active.Total != 1 || len(active.Streams) != 1 {
		t.Fatalf("Expected 1 active stream, got %+v", active)
	}
	if active.Streams[0].CameraID != "cam-02" || active.Streams[0].CameraName != "Parking" {
		t.Errorf("Unexpected active stream: %+v", active.Streams[0])
	}
}

func TestDeleteStopsStream(t *testing.T) {
	s := setupService(t)
	pub := &recordingPublisher{}
	s.SetPublisher(pub)
	ctx := context.Background()
	createCamera(t, s, "cam-01", "Lobby")
	s.StartStream(ctx, "cam-01", nil)

	if err := s.Delete(ctx, "cam-01"); err != nil {
		t.Fatalf("Failed to delete camera: %v", err)
	}
	if _, err := s.Get(ctx, "cam-01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected camera to be gone, got %v", err)
	}
	if last := pub.statuses[len(pub.statuses)-1]; last.IsStreaming {
		t.Error("Expected a stopped status to be published on delete")
	}
	if err := s.Delete(ctx, "cam-01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSyncFromConfig(t *testing.T) {
	s := setupService(t)
	ctx := context.Background()
	createCamera(t, s, "cam-01", "Renamed Lobby")

	err := s.SyncFromConfig(ctx, []config.CameraConfig{
		{ID: "cam-01", Name: "Lobby"},
		{ID: "cam-02", Name: "Parking", StreamType: "http", FPS: 15, AutoStart: true},
	})
	if err != nil {
		t.Fatalf("Failed to sync: %v", err)
	}

	cam, _ := s.Get(ctx, "cam-01")
	if cam.Name != "Renamed Lobby" {
		t.Errorf("Expected existing camera to be kept, got %s", cam.Name)
	}

	cam, err = s.Get(ctx, "cam-02")
	if err != nil {
		t.Fatalf("Expected seeded camera: %v", err)
	}
	if !cam.IsStreaming {
		t.Error("Expected auto_start camera to be streaming")
	}
	if cam.StreamType != StreamHTTP {
		t.Errorf("Expected http stream type, got %s", cam.StreamType)
	}
	if cam.StreamConfig == nil || cam.StreamConfig.FPS != 15 {
		t.Errorf("Expected fps 15, got %+v", cam.StreamConfig)
	}

	// syncing again is a no-op
	if err := s.SyncFromConfig(ctx, []config.CameraConfig{{ID: "cam-02", AutoStart: true}}); err != nil {
		t.Errorf("Second sync failed: %v", err)
	}
}
