package detector

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/anchors"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/infer"
	"github.com/ayusman/mudra/internal/landmarks"
)

// palmOutputs wraps raw palm tensors in the regression/score output pair
// the pipeline expects.
func palmOutputs(boxes, scores []float32) []infer.Tensor {
	reg := infer.Tensor{Shape: []int{1, len(scores), rowStride}, Data: boxes}
	sc := infer.Tensor{Shape: []int{1, len(scores), 1}, Data: scores}
	return []infer.Tensor{reg, sc}
}

// landmarkOutputs builds one landmark invocation's output: all points at
// the crop center, with the given raw score and handedness logits.
func landmarkOutputs(rawScore, rawHandedness float32) []infer.Tensor {
	lm := infer.NewTensor(1, landmarks.NumLandmarks*3)
	wl := infer.NewTensor(1, landmarks.NumLandmarks*3)
	for i := 0; i < landmarks.NumLandmarks; i++ {
		lm.Data[i*3] = landmarks.InputSize / 2
		lm.Data[i*3+1] = landmarks.InputSize / 2
		lm.Data[i*3+2] = 0
	}
	score := infer.NewTensor(1, 1)
	score.Data[0] = rawScore
	handed := infer.NewTensor(1, 1)
	handed.Data[0] = rawHandedness

	return []infer.Tensor{lm, score, handed, wl}
}

// scriptedFactory returns every pool slot the same scripted interpreter.
func scriptedFactory(s *infer.ScriptedInterpreter) infer.Factory {
	return func() (infer.Interpreter, error) { return s, nil }
}

// testFrame allocates a black frame sized like a small webcam capture.
func testFrame(t *testing.T) *gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return &m
}

// twoHandTensors scripts two disjoint palm candidates, the left one scored
// lower than the right one.
func twoHandTensors() ([]float32, []float32) {
	table := anchors.Generate(anchors.PalmConfig())
	boxes, scores := palmRaw(len(table))
	setCandidate(boxes, scores, table, 0, 2, 0.75, 0.5, 0.15, 0.75, 0.55, 0.75, 0.45)
	setCandidate(boxes, scores, table, 700, 1, 0.3, 0.5, 0.15, 0.3, 0.55, 0.3, 0.45)
	return boxes, scores
}

func TestHandDetector(t *testing.T) {
	t.Run("rejects an invalid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.PoolSize = 0

		palm := infer.NewScriptedInterpreter()
		lmk := infer.NewScriptedInterpreter()
		if _, err := NewFromFactories(cfg, scriptedFactory(palm), scriptedFactory(lmk), nil, nil); err == nil {
			t.Error("expected config validation to fail")
		}
	})

	t.Run("propagates palm model construction failure", func(t *testing.T) {
		cfg := DefaultConfig()
		failing := func() (infer.Interpreter, error) { return nil, errors.New("model missing") }
		lmk := infer.NewScriptedInterpreter()

		_, err := NewFromFactories(cfg, failing, scriptedFactory(lmk), nil, nil)
		if !errors.Is(err, ErrResourceInit) {
			t.Errorf("expected ErrResourceInit, got %v", err)
		}
	})

	t.Run("empty frame is rejected", func(t *testing.T) {
		boxes, scores := palmRaw(len(anchors.Generate(anchors.PalmConfig())))
		d := newBoxDetector(t, boxes, scores)
		if _, err := d.DetectMat(nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("frame without hands yields an empty result", func(t *testing.T) {
		table := anchors.Generate(anchors.PalmConfig())
		boxes, scores := palmRaw(len(table))
		d := newBoxDetector(t, boxes, scores)

		hands, err := d.DetectMat(testFrame(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hands) != 0 {
			t.Errorf("expected no hands, got %d", len(hands))
		}
	})

	t.Run("boxes mode returns oriented boxes without landmarks", func(t *testing.T) {
		boxes, scores := twoHandTensors()
		d := newBoxDetector(t, boxes, scores)

		hands, err := d.DetectMat(testFrame(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hands) != 2 {
			t.Fatalf("expected two hands, got %d", len(hands))
		}
		for _, h := range hands {
			if h.Landmarks != nil {
				t.Error("boxes mode must not carry landmarks")
			}
			if h.Rotated == nil {
				t.Error("expected the rotated box to be populated")
			}
			if h.ImageWidth != 640 || h.ImageHeight != 480 {
				t.Errorf("expected 640x480 image dims, got %dx%d", h.ImageWidth, h.ImageHeight)
			}
		}
		if hands[0].Score <= hands[1].Score {
			t.Error("expected hands ordered by descending detector score")
		}
	})

	t.Run("landmark mode keeps detector order across the pool", func(t *testing.T) {
		d := newLandmarkDetector(t, landmarkOutputs(3, 0.9))

		hands, err := d.DetectMat(testFrame(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hands) != 2 {
			t.Fatalf("expected two hands, got %d", len(hands))
		}
		// The higher-scored candidate sits on the right side of the frame.
		if hands[0].Rotated.CenterX < hands[1].Rotated.CenterX {
			t.Error("pool scheduling must not reorder detections")
		}
		for _, h := range hands {
			if len(h.Landmarks) != landmarks.NumLandmarks {
				t.Fatalf("expected %d landmarks, got %d", landmarks.NumLandmarks, len(h.Landmarks))
			}
			if h.Handedness != landmarks.HandednessRight {
				t.Errorf("expected right handedness, got %s", h.Handedness)
			}
		}
	})

	t.Run("low landmark confidence drops the candidate", func(t *testing.T) {
		d := newLandmarkDetector(t, landmarkOutputs(-3, 0.9))

		hands, err := d.DetectMat(testFrame(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hands) != 0 {
			t.Errorf("expected low-confidence candidates to be dropped, got %d hands", len(hands))
		}
	})

	t.Run("landmark inference failure skips the candidate", func(t *testing.T) {
		boxes, scores := twoHandTensors()
		palm := infer.NewScriptedInterpreter()
		palm.Enqueue(palmOutputs(boxes, scores)...)
		lmk := infer.NewScriptedInterpreter()
		lmk.SetError(errors.New("backend gone"))

		d := newDetector(t, DefaultConfig(), palm, lmk, nil, nil)
		hands, err := d.DetectMat(testFrame(t))
		if err != nil {
			t.Fatalf("per-candidate failures must not fail the call: %v", err)
		}
		if len(hands) != 0 {
			t.Errorf("expected no hands, got %d", len(hands))
		}
	})

	t.Run("attaches gestures when enabled", func(t *testing.T) {
		boxes, scores := twoHandTensors()
		palm := infer.NewScriptedInterpreter()
		palm.Enqueue(palmOutputs(boxes, scores)...)
		lmk := infer.NewScriptedInterpreter()
		lmk.Enqueue(landmarkOutputs(3, 0.9)...)

		embedder := infer.NewScriptedInterpreter()
		embedder.Enqueue(infer.NewTensor(1, gesture.EmbeddingSize))
		classifier := infer.NewScriptedInterpreter()
		probs := infer.NewTensor(1, gesture.NumClasses)
		probs.Data[2] = 0.9
		classifier.Enqueue(probs)

		cfg := DefaultConfig()
		cfg.EnableGestures = true
		d := newDetector(t, cfg, palm, lmk, embedder, classifier)

		hands, err := d.DetectMat(testFrame(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hands) != 2 {
			t.Fatalf("expected two hands, got %d", len(hands))
		}
		for _, h := range hands {
			if h.Gesture == nil || h.Gesture.Type != gesture.TypeOpenPalm {
				t.Errorf("expected an openPalm gesture, got %+v", h.Gesture)
			}
		}
	})

	t.Run("dispose is idempotent and blocks further calls", func(t *testing.T) {
		d := newLandmarkDetector(t, landmarkOutputs(3, 0.9))

		if err := d.Dispose(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := d.Dispose(); err != nil {
			t.Fatalf("second dispose must be a no-op: %v", err)
		}
		if _, err := d.DetectMat(testFrame(t)); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized, got %v", err)
		}
	})

	t.Run("rejects a malformed pixel buffer", func(t *testing.T) {
		d := newLandmarkDetector(t, landmarkOutputs(3, 0.9))
		if _, err := d.DetectPixels(make([]byte, 10), 640, 480, FormatBGR); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := d.DetectPixels(make([]byte, 12), 2, 2, PixelFormat("yuv")); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for unknown format, got %v", err)
		}
	})

	t.Run("rejects undecodable image bytes", func(t *testing.T) {
		d := newLandmarkDetector(t, landmarkOutputs(3, 0.9))
		if _, err := d.Detect([]byte("not an image")); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

// newDetector wires scripted interpreters through the factory constructor.
func newDetector(t *testing.T, cfg Config, palm, lmk *infer.ScriptedInterpreter, embedder, classifier infer.Interpreter) *HandDetector {
	t.Helper()
	d, err := NewFromFactories(cfg, scriptedFactory(palm), scriptedFactory(lmk), embedder, classifier)
	if err != nil {
		t.Fatalf("build detector: %v", err)
	}
	t.Cleanup(func() { d.Dispose() })
	return d
}

// newBoxDetector builds a boxes-only detector around scripted palm tensors.
func newBoxDetector(t *testing.T, boxes, scores []float32) *HandDetector {
	t.Helper()
	palm := infer.NewScriptedInterpreter()
	palm.Enqueue(palmOutputs(boxes, scores)...)

	cfg := DefaultConfig()
	cfg.Mode = ModeBoxes
	return newDetector(t, cfg, palm, infer.NewScriptedInterpreter(), nil, nil)
}

// newLandmarkDetector builds a full-pipeline detector with two scripted
// palm candidates and the given landmark output for every candidate.
func newLandmarkDetector(t *testing.T, lmkOut []infer.Tensor) *HandDetector {
	t.Helper()
	boxes, scores := twoHandTensors()
	palm := infer.NewScriptedInterpreter()
	palm.Enqueue(palmOutputs(boxes, scores)...)
	lmk := infer.NewScriptedInterpreter()
	lmk.Enqueue(lmkOut...)

	return newDetector(t, DefaultConfig(), palm, lmk, nil, nil)
}

func TestNewFromModelBytes(t *testing.T) {
	t.Run("empty palm model is rejected", func(t *testing.T) {
		_, err := NewFromModelBytes(DefaultConfig(), ModelBytes{Landmark: []byte{1}})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("landmark mode requires landmark model bytes", func(t *testing.T) {
		_, err := NewFromModelBytes(DefaultConfig(), ModelBytes{Palm: []byte{1}})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("gestures require embedder and classifier bytes", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EnableGestures = true
		_, err := NewFromModelBytes(cfg, ModelBytes{Palm: []byte{1}, Landmark: []byte{1}})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
