// Package app orchestrates the live pipeline: camera capture, motion
// gating, hand detection and session persistence.
package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/store"
)

// FrameDetector is the detection surface the pipeline drives.
type FrameDetector interface {
	DetectMat(frame *gocv.Mat) ([]detector.Hand, error)
}

// Config holds configuration options for the live pipeline.
type Config struct {
	// CameraID selects the capture device when Source is nil.
	CameraID int
	// Source overrides the default webcam, mainly for tests and
	// recorded footage.
	Source capture.Source
	// MotionThreshold is the percentage of changed pixels that counts
	// as motion; non-positive means 1%.
	MotionThreshold float64
	// IdleTimeout is how long after the last motion detection keeps
	// running; non-positive means the gate default.
	IdleTimeout time.Duration
	// IdleFPS and ActiveFPS override the capture duty cycle when
	// positive.
	IdleFPS   int
	ActiveFPS int
	// Store enables session persistence when set.
	Store *store.Store
}

// App runs the live pipeline over a frame source.
type App struct {
	config Config
	source capture.Source
	gate   *capture.MotionGate
	det    FrameDetector
	log    *logrus.Logger

	idleFPS   int
	activeFPS int

	mu        sync.Mutex
	enabled   bool
	stopCh    chan struct{}
	done      chan struct{}
	sessionID string
}

// New creates an App around the given detector.
func New(config Config, det FrameDetector) *App {
	threshold := config.MotionThreshold
	if threshold <= 0 {
		threshold = 1.0
	}

	source := config.Source
	if source == nil {
		source = capture.NewWebcam(config.CameraID)
	}

	idleFPS, activeFPS := config.IdleFPS, config.ActiveFPS
	if idleFPS <= 0 {
		idleFPS = capture.IdleFPS
	}
	if activeFPS <= 0 {
		activeFPS = capture.ActiveFPS
	}

	return &App{
		config:    config,
		source:    source,
		gate:      capture.NewMotionGate(threshold, config.IdleTimeout),
		det:       det,
		log:       logging.L(),
		idleFPS:   idleFPS,
		activeFPS: activeFPS,
		enabled:   true,
	}
}

// SetEnabled pauses or resumes detection without stopping capture.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled reports whether detection currently runs.
func (a *App) IsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Source returns the frame source, for sharing with the HTTP preview.
func (a *App) Source() capture.Source {
	return a.source
}

// SessionID returns the id of the running live session, if any.
func (a *App) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Start opens the source, creates a live session and launches the
// pipeline loop. Starting a running app is a no-op.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}
	if err := a.source.Open(); err != nil {
		return fmt.Errorf("open capture source: %w", err)
	}
	a.source.SetFPS(a.idleFPS)

	if a.config.Store != nil {
		sess := &store.Session{Source: store.SourceLive}
		if err := a.config.Store.Sessions().Create(sess); err != nil {
			a.source.Close()
			return fmt.Errorf("create live session: %w", err)
		}
		a.sessionID = sess.ID
	}

	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(a.stopCh, a.done)

	a.log.WithFields(logging.Fields{"session": a.sessionID}).Info("live pipeline started")
	return nil
}

// Stop halts the pipeline, closes the source and ends the session. It is
// idempotent.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, done := a.stopCh, a.done
	a.stopCh, a.done = nil, nil
	sessionID := a.sessionID
	a.sessionID = ""
	a.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done

	if err := a.source.Close(); err != nil {
		a.log.WithFields(logging.Fields{"error": err.Error()}).Warn("close capture source")
	}
	a.gate.Close()

	if a.config.Store != nil && sessionID != "" {
		if err := a.config.Store.Sessions().End(sessionID); err != nil {
			a.log.WithFields(logging.Fields{"error": err.Error()}).Warn("end live session")
		}
	}
	a.log.Info("live pipeline stopped")
}
