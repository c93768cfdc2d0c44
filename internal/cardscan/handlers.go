package cardscan

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/card-scanner/internal/geometry"
	"github.com/zombor/card-scanner/internal/scanning"
)

const (
	maxFrameSize = int64(1 << 20)  // 1MB of JSON per frame
	maxStillSize = int64(20 << 20) // 20MB, enough for a full-resolution phone photo
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors to status codes
func writeServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		writeError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, ErrLayoutNotFound):
		writeError(w, "Layout not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidLayout), errors.Is(err, ErrNotCalibrating):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotLocked):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("Error "+action, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// decodeBody reads a size-limited JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Debug("Invalid request body", "path", r.URL.Path, "error", err)
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

type startSessionRequest struct {
	Layout   string `json:"layout"`
	Platform string `json:"platform,omitempty"`
}

// handleStartSession opens a new scan session
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	// An empty body starts a session on the default layout
	var req startSessionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxFrameSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Layout == "" {
		req.Layout = ServicesCardSerialLayout
	}

	var platform geometry.Platform
	if req.Platform != "" {
		p, ok := geometry.ParsePlatform(req.Platform)
		if !ok {
			writeError(w, "Unknown platform: "+req.Platform, http.StatusBadRequest)
			return
		}
		platform = p
	}

	status, err := s.service.StartSession(req.Layout, platform)
	if err != nil {
		writeServiceError(w, err, "starting session")
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

// handleGetSession returns the status of a session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "getting session")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleEndSession discards a session
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.EndSession(r.PathValue("id")); err != nil {
		writeServiceError(w, err, "ending session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProcessFrame feeds one camera frame into a session
func (s *Server) handleProcessFrame(w http.ResponseWriter, r *http.Request) {
	var frame scanning.Frame
	if !decodeBody(w, r, maxFrameSize, &frame) {
		return
	}

	report, err := s.service.ProcessFrame(r.Context(), r.PathValue("id"), frame)
	if err != nil {
		writeServiceError(w, err, "processing frame")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type saveZonesRequest struct {
	Layout string `json:"layout"`
}

// handleSaveZones stores the zones of a locked calibration session
func (s *Server) handleSaveZones(w http.ResponseWriter, r *http.Request) {
	var req saveZonesRequest
	if !decodeBody(w, r, maxFrameSize, &req) {
		return
	}
	if req.Layout == "" {
		writeError(w, "Layout name required", http.StatusBadRequest)
		return
	}

	layout, err := s.service.SaveCalibratedZones(r.PathValue("id"), req.Layout)
	if err != nil {
		writeServiceError(w, err, "saving scan zones")
		return
	}
	writeJSON(w, http.StatusCreated, layout)
}

// handleListLayouts returns all layouts
func (s *Server) handleListLayouts(w http.ResponseWriter, r *http.Request) {
	layouts, err := s.service.ListLayouts()
	if err != nil {
		writeServiceError(w, err, "listing layouts")
		return
	}
	writeJSON(w, http.StatusOK, layouts)
}

// handleGetLayout returns a single layout
func (s *Server) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	layout, err := s.service.GetLayout(r.PathValue("name"))
	if err != nil {
		writeServiceError(w, err, "getting layout")
		return
	}
	writeJSON(w, http.StatusOK, layout)
}

// handlePutLayout creates or replaces a layout; the path names it
func (s *Server) handlePutLayout(w http.ResponseWriter, r *http.Request) {
	var layout Layout
	if !decodeBody(w, r, maxFrameSize, &layout) {
		return
	}
	layout.Name = r.PathValue("name")

	saved, err := s.service.SaveLayout(layout)
	if err != nil {
		writeServiceError(w, err, "saving layout")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// handleDeleteLayout deletes a layout
func (s *Server) handleDeleteLayout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteLayout(r.PathValue("name")); err != nil {
		writeServiceError(w, err, "deleting layout")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScanStill finds card barcodes in an uploaded photo or PDF
func (s *Server) handleScanStill(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxStillSize+1<<20)
	if err := r.ParseMultipartForm(maxStillSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 20MB."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxStillSize+1))
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > maxStillSize {
		writeError(w, "File is too large. Maximum size is 20MB.", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromExt(header.Filename)
	}

	report, err := s.service.ScanStill(r.Context(), data, contentType)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// contentTypeFromExt guesses the type of an upload from its file name
func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleHealth reports liveness without authentication
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
