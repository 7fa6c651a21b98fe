// Package worker hosts a hand detector on a dedicated goroutine and talks
// to it exclusively through request/response messages. Callers never share
// mutable state with the detection side; every exchange is a value copy
// correlated by request ID.
package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/mudra/internal/detector"
)

var (
	// ErrDisposed is returned for requests submitted to, queued on, or in
	// flight inside a disposed worker.
	ErrDisposed = errors.New("worker disposed")

	// ErrStartTimeout means the detection side never signalled readiness.
	ErrStartTimeout = errors.New("worker failed to start in time")
)

// readyTimeout bounds detector construction during the start handshake.
const readyTimeout = 30 * time.Second

// Op names a detection operation.
type Op string

const (
	// OpDetect runs detection on an encoded image.
	OpDetect Op = "detect"
	// OpDetectPixels runs detection on a raw pixel buffer.
	OpDetectPixels Op = "detectPixels"
)

// Request is one unit of work. ID correlates the eventual Response.
type Request struct {
	ID     string               `json:"id"`
	Op     Op                   `json:"op"`
	Image  []byte               `json:"image"`
	Width  int                  `json:"width,omitempty"`
	Height int                  `json:"height,omitempty"`
	Format detector.PixelFormat `json:"format,omitempty"`
}

// Response carries the result of exactly one Request.
type Response struct {
	ID    string          `json:"id"`
	Hands []detector.Hand `json:"hands,omitempty"`
	Err   error           `json:"-"`
}

// Detector is the detection surface the worker hosts.
type Detector interface {
	Detect(encoded []byte) ([]detector.Hand, error)
	DetectPixels(data []byte, width, height int, format detector.PixelFormat) ([]detector.Hand, error)
	Dispose() error
}

// Worker owns a Detector on its own goroutine. Requests are queued and
// processed one at a time; Dispose fails every queued and in-flight
// request with ErrDisposed instead of dropping it.
type Worker struct {
	requests chan Request
	quit     chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	pending  map[string]chan Response
	det      Detector
	disposed bool
}

// Start builds the detector on the worker goroutine and waits for its
// ready signal. Construction that neither succeeds nor fails within the
// handshake window is fatal: the worker is torn down and ErrStartTimeout
// returned.
func Start(factory func() (Detector, error), queueSize int) (*Worker, error) {
	if queueSize < 1 {
		queueSize = 1
	}
	w := &Worker{
		requests: make(chan Request, queueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[string]chan Response),
	}

	ready := make(chan error, 1)
	go w.run(factory, ready)

	select {
	case err := <-ready:
		if err != nil {
			<-w.done
			return nil, fmt.Errorf("start worker: %w", err)
		}
		return w, nil
	case <-time.After(readyTimeout):
		close(w.quit)
		return nil, ErrStartTimeout
	}
}

// Submit queues a request and returns the channel its response will be
// delivered on. The request's image bytes are copied before they cross the
// boundary, so the caller may reuse its buffer immediately.
func (w *Worker) Submit(req Request) (<-chan Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Image = append([]byte(nil), req.Image...)

	ch := make(chan Response, 1)

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return nil, ErrDisposed
	}
	w.pending[req.ID] = ch
	w.mu.Unlock()

	select {
	case w.requests <- req:
		return ch, nil
	case <-w.quit:
		w.fail(req.ID, ErrDisposed)
		return ch, nil
	}
}

// Detect submits an encoded image and waits for its response.
func (w *Worker) Detect(encoded []byte) ([]detector.Hand, error) {
	return w.wait(Request{ID: uuid.NewString(), Op: OpDetect, Image: encoded})
}

// DetectPixels submits a raw pixel buffer and waits for its response.
func (w *Worker) DetectPixels(data []byte, width, height int, format detector.PixelFormat) ([]detector.Hand, error) {
	return w.wait(Request{
		ID:     uuid.NewString(),
		Op:     OpDetectPixels,
		Image:  data,
		Width:  width,
		Height: height,
		Format: format,
	})
}

func (w *Worker) wait(req Request) ([]detector.Hand, error) {
	ch, err := w.Submit(req)
	if err != nil {
		return nil, err
	}
	resp := <-ch
	return resp.Hands, resp.Err
}

// Dispose stops the worker, fails every queued and in-flight request with
// ErrDisposed, and releases the hosted detector. It is idempotent.
func (w *Worker) Dispose() error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		<-w.done
		return nil
	}
	w.disposed = true
	w.mu.Unlock()

	close(w.quit)
	<-w.done
	return nil
}

// run is the worker goroutine: detector construction, ready handshake,
// then the request loop.
func (w *Worker) run(factory func() (Detector, error), ready chan<- error) {
	defer close(w.done)

	det, err := factory()
	select {
	case ready <- err:
	case <-w.quit:
		// Startup timed out on the other side; release what we built.
		if det != nil {
			det.Dispose()
		}
		return
	}
	if err != nil {
		return
	}
	w.det = det
	defer det.Dispose()

	for {
		select {
		case req := <-w.requests:
			w.deliver(w.process(req))
		case <-w.quit:
			w.failAll()
			return
		}
	}
}

// process executes one request on the hosted detector.
func (w *Worker) process(req Request) Response {
	var hands []detector.Hand
	var err error
	switch req.Op {
	case OpDetect:
		hands, err = w.det.Detect(req.Image)
	case OpDetectPixels:
		hands, err = w.det.DetectPixels(req.Image, req.Width, req.Height, req.Format)
	default:
		err = fmt.Errorf("%w: unknown operation %q", detector.ErrInvalidInput, req.Op)
	}
	return Response{ID: req.ID, Hands: hands, Err: err}
}

// deliver routes a response to the channel registered for its ID.
func (w *Worker) deliver(resp Response) {
	w.mu.Lock()
	ch, ok := w.pending[resp.ID]
	delete(w.pending, resp.ID)
	w.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// fail delivers an error response for one pending request.
func (w *Worker) fail(id string, err error) {
	w.deliver(Response{ID: id, Err: err})
}

// failAll drains the queue and the pending table, answering everything
// with ErrDisposed.
func (w *Worker) failAll() {
	for {
		select {
		case req := <-w.requests:
			w.fail(req.ID, ErrDisposed)
		default:
			w.mu.Lock()
			ids := make([]string, 0, len(w.pending))
			for id := range w.pending {
				ids = append(ids, id)
			}
			w.mu.Unlock()
			for _, id := range ids {
				w.fail(id, ErrDisposed)
			}
			return
		}
	}
}
