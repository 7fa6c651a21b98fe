// Package server exposes the detection pipeline over HTTP: one-shot
// detection on uploaded images, session history, a live MJPEG preview
// and a websocket landmark feed.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/store"
)

// Detector is the one-shot detection surface the upload endpoint needs.
type Detector interface {
	Detect(encoded []byte) ([]detector.Hand, error)
}

// FrameDetector is the live-frame surface the websocket feed needs.
type FrameDetector interface {
	DetectMat(frame *gocv.Mat) ([]detector.Hand, error)
}

// Config holds the server configuration. Nil members disable the routes
// that need them.
type Config struct {
	StaticDir string
	Store     *store.Store
	Source    capture.Source
	Detector  Detector
	Live      FrameDetector
}

// Server is the HTTP surface of the application.
type Server struct {
	config Config
	mux    *http.ServeMux
	log    *logrus.Logger
	start  time.Time
}

// New creates a Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		log:    logging.L(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Detector != nil {
		s.mux.HandleFunc("/api/detect", s.handleDetect)
	}
	if s.config.Store != nil {
		s.mux.HandleFunc("/api/sessions", s.handleSessions)
		s.mux.HandleFunc("/api/sessions/", s.handleSessionDetail)
	}
	if s.config.Source != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Source))
	}
	if s.config.Source != nil && s.config.Live != nil {
		s.mux.Handle("/api/hands", NewHandsHandler(s.config.Live, s.config.Source))
	}
	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.log.WithFields(logging.Fields{"addr": addr}).Info("http server listening")
	return http.ListenAndServe(addr, s)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
