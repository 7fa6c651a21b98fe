// Package gesture maps hand landmark geometry to discrete gesture labels
// through a two-stage embedding and classification pipeline.
package gesture

import (
	"fmt"
	"sync"

	"github.com/ayusman/mudra/internal/infer"
	"github.com/ayusman/mudra/internal/landmarks"
)

// Type is a closed set of recognizable gestures. Index order matches the
// classifier's output distribution.
type Type string

const (
	TypeUnknown    Type = "unknown"
	TypeClosedFist Type = "closedFist"
	TypeOpenPalm   Type = "openPalm"
	TypePointingUp Type = "pointingUp"
	TypeThumbDown  Type = "thumbDown"
	TypeThumbUp    Type = "thumbUp"
	TypeVictory    Type = "victory"
	TypeILoveYou   Type = "iLoveYou"
)

// classOrder maps classifier output indices to gesture types.
var classOrder = [NumClasses]Type{
	TypeUnknown,
	TypeClosedFist,
	TypeOpenPalm,
	TypePointingUp,
	TypeThumbDown,
	TypeThumbUp,
	TypeVictory,
	TypeILoveYou,
}

const (
	// NumClasses is the size of the classifier output distribution:
	// seven known gestures plus unknown.
	NumClasses = 8
	// EmbeddingSize is the length of the embedder output vector.
	EmbeddingSize = 128
)

// Result is a classified gesture with its confidence.
type Result struct {
	Type       Type    `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Classifier runs the embedder and classifier stages on normalized
// landmark geometry. Classify serializes internally, so concurrent hands
// can share one classifier.
type Classifier struct {
	mu            sync.Mutex
	embedder      infer.Interpreter
	classifier    infer.Interpreter
	minConfidence float64
}

// NewClassifier wires the two inference stages together. Results whose
// best probability falls below minConfidence are reported as unknown.
func NewClassifier(embedder, classifier infer.Interpreter, minConfidence float64) *Classifier {
	return &Classifier{
		embedder:      embedder,
		classifier:    classifier,
		minConfidence: minConfidence,
	}
}

// Classify maps one hand's landmarks to a gesture. Input landmarks are
// normalized by the image dimensions (z by width, matching the detection
// scale) before being fed to the embedder together with the handedness
// scalar and the world landmarks.
//
// A hand without exactly 21 landmarks and 21 world landmarks degrades to
// unknown with zero confidence rather than erroring.
func (c *Classifier) Classify(pts, world []landmarks.Point, handed landmarks.Handedness, imgW, imgH int) (Result, error) {
	if len(pts) != landmarks.NumLandmarks || len(world) != landmarks.NumLandmarks || imgW <= 0 || imgH <= 0 {
		return Result{Type: TypeUnknown, Confidence: 0}, nil
	}

	lm := infer.NewTensor(1, landmarks.NumLandmarks, 3)
	wl := infer.NewTensor(1, landmarks.NumLandmarks, 3)
	for i := 0; i < landmarks.NumLandmarks; i++ {
		lm.Data[i*3] = float32(pts[i].X / float64(imgW))
		lm.Data[i*3+1] = float32(pts[i].Y / float64(imgH))
		lm.Data[i*3+2] = float32(pts[i].Z / float64(imgW))

		wl.Data[i*3] = float32(world[i].X)
		wl.Data[i*3+1] = float32(world[i].Y)
		wl.Data[i*3+2] = float32(world[i].Z)
	}

	hd := infer.NewTensor(1, 1)
	if handed == landmarks.HandednessRight {
		hd.Data[0] = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	embOut, err := c.embedder.Invoke([]infer.Tensor{lm, hd, wl})
	if err != nil {
		return Result{}, fmt.Errorf("gesture embedder: %w", err)
	}
	if len(embOut) != 1 || len(embOut[0].Data) != EmbeddingSize {
		return Result{}, fmt.Errorf("gesture embedder returned %d outputs", len(embOut))
	}

	clsOut, err := c.classifier.Invoke([]infer.Tensor{embOut[0]})
	if err != nil {
		return Result{}, fmt.Errorf("gesture classifier: %w", err)
	}
	if len(clsOut) != 1 || len(clsOut[0].Data) != NumClasses {
		return Result{}, fmt.Errorf("gesture classifier returned wrong distribution size")
	}

	// Classifier output is already a normalized distribution; pick the
	// argmax without re-normalizing.
	best := 0
	for i, p := range clsOut[0].Data {
		if p > clsOut[0].Data[best] {
			best = i
		}
	}

	res := Result{Type: classOrder[best], Confidence: float64(clsOut[0].Data[best])}
	if res.Confidence < c.minConfidence {
		res.Type = TypeUnknown
	}
	return res, nil
}

// Close releases both inference stages.
func (c *Classifier) Close() error {
	var firstErr error
	if c.embedder != nil {
		firstErr = c.embedder.Close()
	}
	if c.classifier != nil {
		if err := c.classifier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
