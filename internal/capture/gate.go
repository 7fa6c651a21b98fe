package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Frame-differencing parameters: blur kernel edge and the per-pixel
// intensity delta that counts as change.
const (
	blurKernel    = 21
	diffThreshold = 25
)

// DefaultIdleTimeout is how long after the last motion the gate stays
// active before dropping back to idle.
const DefaultIdleTimeout = 2 * time.Second

// MotionGate decides whether a frame deserves detection. It compares
// consecutive blurred grayscale frames and keeps the gate open for an
// idle-timeout window after the last observed motion, so brief pauses
// mid-gesture do not drop frames.
type MotionGate struct {
	mu          sync.Mutex
	minChanged  float64
	idleTimeout time.Duration
	prev        gocv.Mat
	primed      bool
	lastMotion  time.Time
}

// NewMotionGate builds a gate that opens when more than minChangedPct
// percent of pixels change between frames, and closes idleTimeout after
// the last motion.
func NewMotionGate(minChangedPct float64, idleTimeout time.Duration) *MotionGate {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &MotionGate{
		minChanged:  minChangedPct,
		idleTimeout: idleTimeout,
		prev:        gocv.NewMat(),
	}
}

// Observe folds one frame into the gate at the given instant and reports
// whether the gate is open plus the percentage of changed pixels. The
// first frame primes the baseline and never opens the gate.
func (g *MotionGate) Observe(frame *gocv.Mat, now time.Time) (bool, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if frame == nil || frame.Empty() {
		return g.openAt(now), 0
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(blurKernel, blurKernel), 0, 0, gocv.BorderDefault)

	if !g.primed {
		blurred.CopyTo(&g.prev)
		g.primed = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, g.prev, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, diffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(mask)) / float64(mask.Rows()*mask.Cols()) * 100

	blurred.CopyTo(&g.prev)

	if changed > g.minChanged {
		g.lastMotion = now
	}
	return g.openAt(now), changed
}

// openAt reports whether the gate is inside its activity window.
func (g *MotionGate) openAt(now time.Time) bool {
	return !g.lastMotion.IsZero() && now.Sub(g.lastMotion) <= g.idleTimeout
}

// Reset drops the baseline and closes the gate; the next frame primes a
// fresh baseline.
func (g *MotionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
}

func (g *MotionGate) reset() {
	if !g.prev.Empty() {
		g.prev.Close()
		g.prev = gocv.NewMat()
	}
	g.primed = false
	g.lastMotion = time.Time{}
}

// Close releases the baseline frame. The gate can be reused afterwards.
func (g *MotionGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
}
