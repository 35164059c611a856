package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Spatial-NVR/livegrid/internal/camera"
	"github.com/Spatial-NVR/livegrid/internal/wire"
)

// CameraHandler handles camera and stream control API requests
type CameraHandler struct {
	service *camera.Service
	logger  *slog.Logger
}

// NewCameraHandler creates a new camera handler
func NewCameraHandler(service *camera.Service) *CameraHandler {
	return &CameraHandler{
		service: service,
		logger:  slog.Default().With("component", "camera-api"),
	}
}

// Routes returns the camera routes
func (h *CameraHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/active-streams/list", h.ActiveStreams)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/start-stream", h.StartStream)
	r.Post("/{id}/stop-stream", h.StopStream)
	r.Get("/{id}/stream-status", h.StreamStatus)
	r.Post("/{id}/frames", h.IngestFrame)

	return r
}

// FrameRequest is the body of a frame ingest request
type FrameRequest struct {
	Detections []wire.Detection `json:"detections"`
}

// List lists all cameras
func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	cams, err := h.service.List(r.Context())
	if err != nil {
		h.serviceError(w, err, "Failed to list cameras")
		return
	}
	List(w, r, cams, len(cams))
}

// Create creates a camera
func (h *CameraHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req camera.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}

	if errs := NewCameraValidator().ValidateCreate(req); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	cam, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.serviceError(w, err, "Failed to create camera")
		return
	}
	h.logger.Info("Camera created via API", "camera_id", cam.ID, "stream_url", SanitizeStreamURL(cam.StreamURL))
	Created(w, cam)
}

// Get returns one camera
func (h *CameraHandler) Get(w http.ResponseWriter, r *http.Request) {
	cam, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, err, "Failed to get camera")
		return
	}
	OK(w, cam)
}

// Update updates a camera
func (h *CameraHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req camera.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}

	if errs := NewCameraValidator().ValidateUpdate(req); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	cam, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.serviceError(w, err, "Failed to update camera")
		return
	}
	OK(w, cam)
}

// Delete deletes a camera
func (h *CameraHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.serviceError(w, err, "Failed to delete camera")
		return
	}
	NoContent(w)
}

// StartStream starts a camera stream. The body is an optional StreamConfig.
func (h *CameraHandler) StartStream(w http.ResponseWriter, r *http.Request) {
	var cfg *camera.StreamConfig
	var body camera.StreamConfig
	switch err := json.NewDecoder(r.Body).Decode(&body); {
	case err == nil:
		cfg = &body
	case errors.Is(err, io.EOF):
	default:
		BadRequest(w, "Invalid request body")
		return
	}

	if errs := NewCameraValidator().ValidateStreamConfig(cfg); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	status, err := h.service.StartStream(r.Context(), chi.URLParam(r, "id"), cfg)
	if err != nil {
		h.serviceError(w, err, "Failed to start stream")
		return
	}
	OK(w, status)
}

// StopStream stops a camera stream
func (h *CameraHandler) StopStream(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.StopStream(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, err, "Failed to stop stream")
		return
	}
	OK(w, status)
}

// StreamStatus returns the stream state of a camera
func (h *CameraHandler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.StreamStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, err, "Failed to get stream status")
		return
	}
	OK(w, status)
}

// ActiveStreams lists streaming cameras
func (h *CameraHandler) ActiveStreams(w http.ResponseWriter, r *http.Request) {
	active, err := h.service.ActiveStreams(r.Context())
	if err != nil {
		h.serviceError(w, err, "Failed to list active streams")
		return
	}
	OK(w, active)
}

// IngestFrame accepts the detections of one processed frame from a detector
func (h *CameraHandler) IngestFrame(w http.ResponseWriter, r *http.Request) {
	var req FrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	for i, d := range req.Detections {
		if len(d.BBox) != 4 {
			ValidationErrorResponse(w, ValidationErrors{{
				Field:   fmt.Sprintf("detections[%d].bbox", i),
				Message: "bbox must have 4 values",
			}})
			return
		}
	}

	frame, err := h.service.IngestFrame(r.Context(), chi.URLParam(r, "id"), req.Detections)
	if err != nil {
		h.serviceError(w, err, "Failed to ingest frame")
		return
	}
	Created(w, frame)
}

func (h *CameraHandler) serviceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, camera.ErrNotFound):
		NotFound(w, "Camera not found")
	case errors.Is(err, camera.ErrExists):
		Conflict(w, "Camera already exists")
	case errors.Is(err, camera.ErrAlreadyStreaming):
		Conflict(w, "Camera is already streaming")
	case errors.Is(err, camera.ErrNotStreaming):
		Conflict(w, "Camera is not streaming")
	default:
		h.logger.Error(fallback, "error", err)
		InternalError(w, fallback)
	}
}
