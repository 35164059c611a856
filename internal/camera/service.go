package camera

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Spatial-NVR/livegrid/internal/config"
	"github.com/Spatial-NVR/livegrid/internal/database"
	"github.com/Spatial-NVR/livegrid/internal/wire"
)

// Publisher receives live events produced by the service
type Publisher interface {
	PublishStreamStatus(status wire.StreamStatus) error
	PublishFrame(frame wire.FrameUpdate) error
}

// Service manages camera records and their streams
type Service struct {
	db        *database.DB
	logger    *slog.Logger
	publisher Publisher
	now       func() time.Time

	// mu serializes stream state changes
	mu     sync.Mutex
	epochs map[string]int64
}

// NewService creates a camera service on db. Migrations must have been run.
func NewService(db *database.DB) *Service {
	return &Service{
		db:     db,
		logger: slog.Default().With("component", "camera-service"),
		now:    time.Now,
		epochs: make(map[string]int64),
	}
}

// SetPublisher sets where stream status and frame events are published
func (s *Service) SetPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

const cameraColumns = `id, name, location, zone_type, stream_url, stream_type, is_streaming,
	stream_config, status, frame_count, last_frame_at, stream_started_at, frames_processed,
	building_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

// record is a camera row plus the fields only used for stream status
type record struct {
	Camera
	startedAt       sql.NullInt64
	framesProcessed int64
}

func scanRecord(row scanner) (*record, error) {
	var r record
	var streamConfig string
	var lastFrameAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&r.ID, &r.Name, &r.Location, &r.ZoneType, &r.StreamURL, &r.StreamType, &r.IsStreaming,
		&streamConfig, &r.Status, &r.FrameCount, &lastFrameAt, &r.startedAt, &r.framesProcessed,
		&r.BuildingID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if streamConfig != "" && streamConfig != "{}" {
		var sc StreamConfig
		if err := json.Unmarshal([]byte(streamConfig), &sc); err == nil {
			r.StreamConfig = &sc
		}
	}
	if lastFrameAt.Valid {
		t := time.UnixMilli(lastFrameAt.Int64)
		r.LastFrameAt = &t
	}
	r.CreatedAt = time.Unix(createdAt, 0)
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}

func (r *record) streamStatus() *StreamStatus {
	st := &StreamStatus{
		CameraID:     r.ID,
		CameraName:   r.Name,
		Status:       r.Status,
		IsStreaming:  r.IsStreaming,
		StreamType:   r.StreamType,
		LastFrameAt:  r.LastFrameAt,
		FrameCount:   r.FrameCount,
		StreamConfig: r.StreamConfig,
	}
	if r.startedAt.Valid {
		st.StreamInstance = &StreamInstance{
			StartedAt:       time.UnixMilli(r.startedAt.Int64),
			FramesProcessed: r.framesProcessed,
			IsActive:        r.IsStreaming,
		}
	}
	return st
}

func encodeStreamConfig(sc *StreamConfig) string {
	if sc == nil {
		return "{}"
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func (s *Service) getRecord(ctx context.Context, id string) (*record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+cameraColumns+" FROM cameras WHERE id = ?", id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera %s: %w", id, err)
	}
	return r, nil
}

// List returns all cameras ordered by name
func (s *Service) List(ctx context.Context) ([]*Camera, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+cameraColumns+" FROM cameras ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	cameras := make([]*Camera, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cam := r.Camera
		cameras = append(cameras, &cam)
	}
	return cameras, rows.Err()
}

// Get returns a camera by ID
func (s *Service) Get(ctx context.Context, id string) (*Camera, error) {
	r, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	cam := r.Camera
	return &cam, nil
}

// Create creates a new camera. An id is generated when none is given.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Camera, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	streamType := req.StreamType
	if streamType == "" {
		streamType = StreamRTSP
	}
	now := s.now().Unix()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cameras (id, name, location, zone_type, stream_url, stream_type,
		                     stream_config, status, building_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, req.Name, req.Location, req.ZoneType, req.StreamURL, streamType,
		encodeStreamConfig(req.StreamConfig), StatusOffline, req.BuildingID, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrExists, id)
		}
		return nil, fmt.Errorf("failed to create camera: %w", err)
	}

	s.logger.Info("Created camera", "camera_id", id, "name", req.Name)
	return s.Get(ctx, id)
}

// Update applies the non-nil fields of req to a camera
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*Camera, error) {
	r, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	cam := r.Camera
	if req.Name != nil {
		cam.Name = *req.Name
	}
	if req.Location != nil {
		cam.Location = *req.Location
	}
	if req.ZoneType != nil {
		cam.ZoneType = *req.ZoneType
	}
	if req.StreamURL != nil {
		cam.StreamURL = *req.StreamURL
	}
	if req.StreamType != nil {
		cam.StreamType = *req.StreamType
	}
	if req.StreamConfig != nil {
		sc := *req.StreamConfig
		cam.StreamConfig = &sc
	}
	if req.Status != nil {
		cam.Status = *req.Status
	}
	if req.BuildingID != nil {
		cam.BuildingID = *req.BuildingID
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE cameras SET name = ?, location = ?, zone_type = ?, stream_url = ?, stream_type = ?,
		       stream_config = ?, status = ?, building_id = ?, updated_at = ?
		WHERE id = ?
	`, cam.Name, cam.Location, cam.ZoneType, cam.StreamURL, cam.StreamType,
		encodeStreamConfig(cam.StreamConfig), cam.Status, cam.BuildingID, s.now().Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update camera %s: %w", id, err)
	}

	s.logger.Info("Updated camera", "camera_id", id)
	return s.Get(ctx, id)
}

// Delete removes a camera, stopping its stream first
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.StopStream(ctx, id); err != nil && !errors.Is(err, ErrNotStreaming) {
		return err
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM cameras WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete camera %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.mu.Lock()
	delete(s.epochs, id)
	s.mu.Unlock()

	s.logger.Info("Deleted camera", "camera_id", id)
	return nil
}

// StartStream starts streaming a camera. A nil cfg keeps the camera's
// stored settings, falling back to DefaultStreamConfig.
func (s *Service) StartStream(ctx context.Context, id string, cfg *StreamConfig) (*StreamStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.IsStreaming {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyStreaming, id)
	}

	sc := r.StreamConfig
	if cfg != nil {
		sc = cfg
	}
	if sc == nil {
		def := DefaultStreamConfig()
		sc = &def
	}

	// epochs must increase even when restarted within the same millisecond
	epoch := s.now().UnixMilli()
	if last := s.epochs[id]; epoch <= last {
		epoch = last + 1
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE cameras SET is_streaming = 1, status = ?, stream_config = ?, stream_started_at = ?,
		       frames_processed = 0, updated_at = ?
		WHERE id = ?
	`, StatusOnline, encodeStreamConfig(sc), epoch, s.now().Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to start stream for %s: %w", id, err)
	}
	s.epochs[id] = epoch

	s.logger.Info("Stream started", "camera_id", id, "fps", sc.FPS, "session_epoch", epoch)
	s.publishStatus(id, StatusOnline, true, epoch)
	return s.streamStatus(ctx, id)
}

// StopStream stops a streaming camera
func (s *Service) StopStream(ctx context.Context, id string) (*StreamStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsStreaming {
		return nil, fmt.Errorf("%w: %s", ErrNotStreaming, id)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE cameras SET is_streaming = 0, status = ?, stream_started_at = NULL, updated_at = ?
		WHERE id = ?
	`, StatusOffline, s.now().Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to stop stream for %s: %w", id, err)
	}

	s.logger.Info("Stream stopped", "camera_id", id, "frames_processed", r.framesProcessed)
	s.publishStatus(id, StatusOffline, false, s.epochs[id])
	return s.streamStatus(ctx, id)
}

// StreamStatus returns the stream state of a camera
func (s *Service) StreamStatus(ctx context.Context, id string) (*StreamStatus, error) {
	return s.streamStatus(ctx, id)
}

func (s *Service) streamStatus(ctx context.Context, id string) (*StreamStatus, error) {
	r, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.streamStatus(), nil
}

// IsStreaming reports whether a camera is currently streaming
func (s *Service) IsStreaming(ctx context.Context, id string) (bool, error) {
	var streaming bool
	err := s.db.QueryRowContext(ctx, "SELECT is_streaming FROM cameras WHERE id = ?", id).Scan(&streaming)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read stream state of %s: %w", id, err)
	}
	return streaming, nil
}

// ActiveStreams lists all streaming cameras
func (s *Service) ActiveStreams(ctx context.Context) (*ActiveStreams, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+cameraColumns+" FROM cameras WHERE is_streaming = 1 ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list active streams: %w", err)
	}
	defer rows.Close()

	active := &ActiveStreams{Streams: make([]StreamStatus, 0)}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		active.Streams = append(active.Streams, *r.streamStatus())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	active.Total = len(active.Streams)
	return active, nil
}

// IngestFrame records detections for a streaming camera, numbers the frame
// within the current stream session and publishes it
func (s *Service) IngestFrame(ctx context.Context, id string, detections []wire.Detection) (*wire.FrameUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsStreaming || !r.startedAt.Valid {
		return nil, fmt.Errorf("%w: %s", ErrNotStreaming, id)
	}

	now := s.now()
	frameNumber := r.framesProcessed + 1
	_, err = s.db.ExecContext(ctx, `
		UPDATE cameras SET frames_processed = ?, frame_count = frame_count + 1, last_frame_at = ?
		WHERE id = ?
	`, frameNumber, now.UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to record frame for %s: %w", id, err)
	}

	if detections == nil {
		detections = []wire.Detection{}
	}
	frame := &wire.FrameUpdate{
		CameraID:     id,
		CameraName:   r.Name,
		SessionEpoch: r.startedAt.Int64,
		FrameNumber:  frameNumber,
		Detections:   detections,
		TotalPersons: len(detections),
		Timestamp:    now,
	}

	if s.publisher != nil {
		if err := s.publisher.PublishFrame(*frame); err != nil {
			s.logger.Warn("Failed to publish frame", "camera_id", id, "error", err)
		}
	}
	return frame, nil
}

// publishStatus must be called with s.mu held
func (s *Service) publishStatus(id string, status Status, streaming bool, epoch int64) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishStreamStatus(wire.StreamStatus{
		CameraID:     id,
		Status:       string(status),
		IsStreaming:  streaming,
		SessionEpoch: epoch,
	})
	if err != nil {
		s.logger.Warn("Failed to publish stream status", "camera_id", id, "error", err)
	}
}

// SyncFromConfig creates cameras listed in the config file that are not in
// the database yet and starts the ones marked auto_start
func (s *Service) SyncFromConfig(ctx context.Context, cams []config.CameraConfig) error {
	for _, cc := range cams {
		_, err := s.Get(ctx, cc.ID)
		if errors.Is(err, ErrNotFound) {
			req := CreateRequest{
				ID:         cc.ID,
				Name:       cc.Name,
				Location:   cc.Location,
				ZoneType:   cc.ZoneType,
				StreamURL:  cc.StreamURL,
				StreamType: StreamType(cc.StreamType),
				BuildingID: cc.BuildingID,
			}
			if cc.FPS > 0 {
				req.StreamConfig = &StreamConfig{FPS: cc.FPS}
			}
			if _, err := s.Create(ctx, req); err != nil {
				s.logger.Error("Failed to seed camera", "camera_id", cc.ID, "error", err)
				continue
			}
		} else if err != nil {
			return fmt.Errorf("failed to sync camera %s: %w", cc.ID, err)
		}

		if cc.AutoStart {
			if _, err := s.StartStream(ctx, cc.ID, nil); err != nil && !errors.Is(err, ErrAlreadyStreaming) {
				s.logger.Warn("Failed to auto-start stream", "camera_id", cc.ID, "error", err)
			}
		}
	}
	return nil
}
