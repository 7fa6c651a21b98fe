// Package capture provides the live frame sources and the motion gate
// that decides which frames are worth running detection on.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Capture defaults. The webcam idles at a low frame rate and only ramps
// up while the motion gate reports activity.
const (
	IdleFPS       = 5
	ActiveFPS     = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrNotOpen is returned when reading from a source that is not open.
var ErrNotOpen = errors.New("capture source is not open")

// Source is a stream of frames. Read hands ownership of the returned Mat
// to the caller.
type Source interface {
	Open() error
	Close() error
	Read() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Webcam captures frames from a local camera device.
type Webcam struct {
	deviceID int
	width    int
	height   int

	mu   sync.Mutex
	cap  *gocv.VideoCapture
	fps  int
	open bool
}

// NewWebcam creates a webcam source for the given device at the default
// capture resolution.
func NewWebcam(deviceID int) *Webcam {
	return &Webcam{
		deviceID: deviceID,
		width:    DefaultWidth,
		height:   DefaultHeight,
		fps:      IdleFPS,
	}
}

// Open claims the device and applies resolution and frame rate. Opening
// an already open webcam is a no-op.
func (w *Webcam) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.open {
		return nil
	}

	cap, err := gocv.OpenVideoCapture(w.deviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", w.deviceID, err)
	}
	cap.Set(gocv.VideoCaptureFrameWidth, float64(w.width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(w.height))
	cap.Set(gocv.VideoCaptureFPS, float64(w.fps))

	w.cap = cap
	w.open = true
	return nil
}

// Close releases the device.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open || w.cap == nil {
		w.open = false
		return nil
	}
	err := w.cap.Close()
	w.cap = nil
	w.open = false
	return err
}

// Read grabs the next frame. The caller owns the returned Mat.
func (w *Webcam) Read() (*gocv.Mat, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open || w.cap == nil {
		return nil, ErrNotOpen
	}

	frame := gocv.NewMat()
	if ok := w.cap.Read(&frame); !ok {
		frame.Close()
		return nil, errors.New("read frame from camera")
	}
	if frame.Empty() {
		frame.Close()
		return nil, errors.New("camera produced an empty frame")
	}
	return &frame, nil
}

// SetFPS adjusts the capture rate. Non-positive values are ignored.
func (w *Webcam) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.fps = fps
	if w.cap != nil {
		w.cap.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current capture rate setting.
func (w *Webcam) FPS() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fps
}

// IsOpen reports whether the device is claimed.
func (w *Webcam) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}
