package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// Playback replays a fixed frame sequence through the Source interface.
// It backs tests and offline runs against recorded footage.
type Playback struct {
	mu     sync.Mutex
	frames []*gocv.Mat
	index  int
	loop   bool
	fps    int
	open   bool
}

// NewPlayback creates a playback source over the given frames. With loop
// set, the sequence restarts after the last frame.
func NewPlayback(frames []*gocv.Mat, loop bool) *Playback {
	return &Playback{frames: frames, loop: loop, fps: ActiveFPS}
}

func (p *Playback) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	p.index = 0
	return nil
}

func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

// Read clones the next frame so callers can close it independently of the
// backing sequence.
func (p *Playback) Read() (*gocv.Mat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return nil, ErrNotOpen
	}
	if len(p.frames) == 0 {
		return nil, errors.New("playback has no frames")
	}
	if p.index >= len(p.frames) {
		if !p.loop {
			return nil, errors.New("playback exhausted")
		}
		p.index = 0
	}

	frame := p.frames[p.index].Clone()
	p.index++
	return &frame, nil
}

func (p *Playback) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fps = fps
}

func (p *Playback) FPS() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fps
}

func (p *Playback) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Rewind restarts playback from the first frame.
func (p *Playback) Rewind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = 0
}
