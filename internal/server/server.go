package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/dictator/internal/audio"
	"github.com/audiolibrelab/dictator/internal/recorder"
	"github.com/audiolibrelab/dictator/internal/service"
)

// Server exposes the recording controls over HTTP
type Server struct {
	service service.Service
	addr    string
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status    string                `json:"status"`
	Message   string                `json:"message,omitempty"`
	Session   *recorder.SessionInfo `json:"session,omitempty"`
	Format    string                `json:"format"`
	Encoding  string                `json:"encoding"`
	Directory string                `json:"directory"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// StopResponse is returned by /stop and by /toggle when it stopped a session
type StopResponse struct {
	GenericResponse
	Recording *recorder.Recording `json:"recording,omitempty"`
}

// RecordingsResponse represents the JSON response for the recordings list
type RecordingsResponse struct {
	Recordings []service.RecordingInfo `json:"recordings"`
	TotalCount int                     `json:"total_count"`
	Directory  string                  `json:"directory"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Sources []audio.Source `json:"sources"`
}

// New creates a new web server instance
func New(svc service.Service, addr string) *Server {
	return &Server{service: svc, addr: addr}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.handleStartRecording)
	mux.HandleFunc("/stop", s.handleStopRecording)
	mux.HandleFunc("/toggle", s.handleToggle)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.HandleFunc("/api/recordings/latest", s.handleLatestRecording)
	mux.HandleFunc("/api/recordings/", s.handleRecordingStream)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	_, port, _ := net.SplitHostPort(listener.Addr().String())
	slog.Info("Starting Dictator Web Server",
		"addr", listener.Addr().String(),
		"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleStartRecording starts a session (IDLE -> RECORDING)
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.StartRecording(); err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable,
			fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "start_recording")
		return
	}

	writeJSON(w, http.StatusOK, GenericResponse{
		Success: true,
		Message: "Recording started",
	})
}

// handleStopRecording stops the current recording session
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	rec, err := s.service.StopRecording()
	if err != nil {
		s.sendStopError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StopResponse{
		GenericResponse: GenericResponse{Success: true, Message: stopMessage(rec)},
		Recording:       rec,
	})
}

// handleToggle starts a session when idle, otherwise stops it
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	res, err := s.service.Toggle()
	if err != nil {
		s.sendStopError(w, err)
		return
	}

	if res.Action == "stopped" {
		writeJSON(w, http.StatusOK, StopResponse{
			GenericResponse: GenericResponse{Success: true, Message: stopMessage(res.Recording)},
			Recording:       res.Recording,
		})
		return
	}
	writeJSON(w, http.StatusOK, GenericResponse{
		Success: true,
		Message: "Recording started",
	})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status, session := s.service.GetRecordingStatus()
	cfg := s.service.GetConfig()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    string(status),
		Message:   s.generateStatusMessage(status, session),
		Session:   session,
		Format:    cfg.Format().String(),
		Encoding:  cfg.Recorder.Encoding,
		Directory: cfg.Recorder.Directory,
	})
}

// handleSources lists the capture devices
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	sources, err := s.service.ListSources()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "list_sources")
		return
	}
	if sources == nil {
		sources = []audio.Source{}
	}
	writeJSON(w, http.StatusOK, SourcesResponse{Sources: sources})
}

// handleRecordings lists finished recordings, newest first
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "list_recordings")
		return
	}
	if recordings == nil {
		recordings = []service.RecordingInfo{}
	}
	writeJSON(w, http.StatusOK, RecordingsResponse{
		Recordings: recordings,
		TotalCount: len(recordings),
		Directory:  s.service.GetConfig().Recorder.Directory,
	})
}

// handleLatestRecording streams the newest finished recording. With
// ?format=json its metadata is returned instead.
func (s *Server) handleLatestRecording(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	latest, err := s.service.LatestRecording()
	if err != nil {
		if errors.Is(err, service.ErrNoRecordings) {
			s.sendErrorResponse(w, http.StatusNotFound, "No recordings found", "operation", "latest_recording")
			return
		}
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "latest_recording")
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, latest)
		return
	}
	serveAudio(w, r, latest.Path)
}

// handleRecordingStream serves a recording by file name
func (s *Server) handleRecordingStream(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	// Extract filename from URL path
	path := strings.TrimPrefix(r.URL.Path, "/api/recordings/")
	if path == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	// URL decode the filename
	fileName, err := url.QueryUnescape(path)
	if err != nil {
		http.Error(w, "Invalid filename encoding", http.StatusBadRequest)
		return
	}

	outputDir := s.service.GetConfig().Recorder.Directory
	filePath := filepath.Join(outputDir, fileName)

	// Security check: ensure the file is within the output directory
	cleanPath, err := filepath.Abs(filePath)
	if err != nil {
		http.Error(w, "Invalid file path", http.StatusBadRequest)
		return
	}
	cleanOutputDir, err := filepath.Abs(outputDir)
	if err != nil {
		http.Error(w, "Invalid output directory", http.StatusInternalServerError)
		return
	}
	if filepath.Dir(cleanPath) != cleanOutputDir || !recorder.IsRecordingFile(filepath.Base(cleanPath)) {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	// Check if file exists
	if _, err := os.Stat(cleanPath); os.IsNotExist(err) {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	serveAudio(w, r, cleanPath)
}

func serveAudio(w http.ResponseWriter, r *http.Request, filePath string) {
	// Determine content type
	ext := strings.ToLower(filepath.Ext(filePath))
	contentType := mime.TypeByExtension(ext)

	// Some systems don't have these MIME types registered
	switch ext {
	case ".wav":
		contentType = "audio/wav"
	case ".opus":
		contentType = "audio/ogg"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(filePath)))

	http.ServeFile(w, r, filePath)
}

func (s *Server) generateStatusMessage(status recorder.Status, session *recorder.SessionInfo) string {
	switch status {
	case recorder.StatusIdle:
		// A start that failed on the device leaves the recorder idle
		return s.service.GetLastError()
	case recorder.StatusRecording:
		if session != nil {
			return fmt.Sprintf("Recording in progress - %s", filepath.Base(session.Path))
		}
		return "Recording in progress"
	case recorder.StatusError:
		// Get detailed error information from service
		if errorDetails := s.service.GetLastError(); errorDetails != "" {
			return errorDetails
		}
		if session != nil && session.Error != "" {
			return session.Error
		}
		return "An error occurred during the operation"
	default:
		return ""
	}
}

func stopMessage(rec *recorder.Recording) string {
	if rec == nil {
		return "Recording stopped"
	}
	if rec.Truncated {
		return fmt.Sprintf("Recording stopped, file is truncated - %s", filepath.Base(rec.Path))
	}
	return fmt.Sprintf("Recording stopped - %s (%s)", filepath.Base(rec.Path), rec.Duration.Round(time.Millisecond))
}

func (s *Server) sendStopError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recorder.ErrNoActiveRecording):
		s.sendErrorResponse(w, http.StatusConflict, "No active recording", "operation", "stop_recording")
	case errors.Is(err, recorder.ErrRecorderClosed):
		s.sendErrorResponse(w, http.StatusServiceUnavailable, "Recorder is shut down", "operation", "stop_recording")
	default:
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop_recording")
	}
}

// requireMethod answers 405 when r does not use one of methods.
func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

// getLocalIP returns the local IP address for network access
func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
