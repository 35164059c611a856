package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var response Response
	if err := json.NewDecoder(w.Result().Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return response
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusOK, map[string]string{"message": "hello"})

	result := w.Result()
	if result.StatusCode != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, result.StatusCode)
	}
	if result.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", result.Header.Get("Content-Type"))
	}
	if !decodeResponse(t, w).Success {
		t.Error("Response should be successful")
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid input")

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	response := decodeResponse(t, w)
	if response.Success {
		t.Error("Response should not be successful")
	}
	if response.Error == nil {
		t.Fatal("Response should have error")
	}
	if response.Error.Code != "BAD_REQUEST" {
		t.Errorf("Expected error code 'BAD_REQUEST', got '%s'", response.Error.Code)
	}
	if response.Error.Message != "Invalid input" {
		t.Errorf("Expected message 'Invalid input', got '%s'", response.Error.Message)
	}
}

func TestValidationErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	errors := ValidationErrors{
		{Field: "name", Message: "is required"},
		{Field: "stream_url", Message: "is invalid"},
	}

	ValidationErrorResponse(w, errors)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}

	response := decodeResponse(t, w)
	if response.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("Expected error code 'VALIDATION_ERROR', got '%s'", response.Error.Code)
	}
	if len(response.Error.Details) != 2 {
		t.Errorf("Expected 2 error details, got %d", len(response.Error.Details))
	}
	if response.Error.Message != "name: is required; stream_url: is invalid" {
		t.Errorf("Unexpected message %q", response.Error.Message)
	}
}

func TestStatusHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"BadRequest", func(w http.ResponseWriter) { BadRequest(w, "x") }, http.StatusBadRequest},
		{"NotFound", func(w http.ResponseWriter) { NotFound(w, "x") }, http.StatusNotFound},
		{"InternalError", func(w http.ResponseWriter) { InternalError(w, "x") }, http.StatusInternalServerError},
		{"Conflict", func(w http.ResponseWriter) { Conflict(w, "x") }, http.StatusConflict},
		{"Unavailable", func(w http.ResponseWriter) { Unavailable(w, "x") }, http.StatusServiceUnavailable},
		{"Created", func(w http.ResponseWriter) { Created(w, "x") }, http.StatusCreated},
		{"OK", func(w http.ResponseWriter) { OK(w, "x") }, http.StatusOK},
		{"NoContent", NoContent, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestList(t *testing.T) {
	handler := middleware.RequestID(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		List(rw, r, []string{"a", "b", "c"}, 3)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	response := decodeResponse(t, w)
	if response.Meta == nil {
		t.Fatal("Response should have meta")
	}
	if response.Meta.Total != 3 {
		t.Errorf("Expected total 3, got %d", response.Meta.Total)
	}
	if response.Meta.RequestID == "" {
		t.Error("Expected request id in meta")
	}
}
