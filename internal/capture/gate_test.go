package capture

import (
	"testing"
	"time"

	"gocv.io/x/gocv"
)

func solidFrame(t *testing.T, value float64) *gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(value, value, value, 0))
	t.Cleanup(func() { m.Close() })
	return &m
}

func TestMotionGate(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first frame primes without opening", func(t *testing.T) {
		g := NewMotionGate(1.0, time.Second)
		defer g.Close()

		open, changed := g.Observe(solidFrame(t, 0), base)
		if open {
			t.Error("priming frame must not open the gate")
		}
		if changed != 0 {
			t.Errorf("expected zero change on priming, got %f", changed)
		}
	})

	t.Run("identical frames keep the gate closed", func(t *testing.T) {
		g := NewMotionGate(1.0, time.Second)
		defer g.Close()

		g.Observe(solidFrame(t, 0), base)
		open, changed := g.Observe(solidFrame(t, 0), base.Add(time.Second))
		if open {
			t.Errorf("static scene opened the gate (%.2f%% changed)", changed)
		}
	})

	t.Run("a scene change opens the gate", func(t *testing.T) {
		g := NewMotionGate(1.0, time.Second)
		defer g.Close()

		g.Observe(solidFrame(t, 0), base)
		open, changed := g.Observe(solidFrame(t, 255), base.Add(time.Second))
		if !open {
			t.Errorf("black-to-white should open the gate, changed %.2f%%", changed)
		}
		if changed < 50 {
			t.Errorf("expected most pixels to change, got %.2f%%", changed)
		}
	})

	t.Run("gate stays open until the idle timeout passes", func(t *testing.T) {
		g := NewMotionGate(1.0, 2*time.Second)
		defer g.Close()

		g.Observe(solidFrame(t, 0), base)
		g.Observe(solidFrame(t, 255), base.Add(time.Second))

		// Static frames within the window keep the gate open.
		if open, _ := g.Observe(solidFrame(t, 255), base.Add(2*time.Second)); !open {
			t.Error("gate closed inside the idle window")
		}
		if open, _ := g.Observe(solidFrame(t, 255), base.Add(3*time.Second)); !open {
			t.Error("gate closed exactly at the idle boundary")
		}
		if open, _ := g.Observe(solidFrame(t, 255), base.Add(4*time.Second)); open {
			t.Error("gate still open past the idle timeout")
		}
	})

	t.Run("small intensity drift does not open the gate", func(t *testing.T) {
		g := NewMotionGate(1.0, time.Second)
		defer g.Close()

		// A 20-level shift sits under the per-pixel difference threshold.
		g.Observe(solidFrame(t, 0), base)
		if open, _ := g.Observe(solidFrame(t, 20), base.Add(time.Second)); open {
			t.Error("sub-threshold intensity drift opened the gate")
		}
	})

	t.Run("reset closes the gate and reprimes", func(t *testing.T) {
		g := NewMotionGate(1.0, 10*time.Second)
		defer g.Close()

		g.Observe(solidFrame(t, 0), base)
		g.Observe(solidFrame(t, 255), base.Add(time.Second))
		g.Reset()

		open, changed := g.Observe(solidFrame(t, 0), base.Add(2*time.Second))
		if open || changed != 0 {
			t.Errorf("expected a fresh baseline after reset, got open=%v changed=%f", open, changed)
		}
	})

	t.Run("close is reusable and safe to repeat", func(t *testing.T) {
		g := NewMotionGate(1.0, time.Second)
		g.Observe(solidFrame(t, 0), base)
		g.Close()
		g.Close()

		if open, _ := g.Observe(solidFrame(t, 0), base); open {
			t.Error("first frame after close must prime, not open")
		}
	})
}
