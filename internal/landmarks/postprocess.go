package landmarks

import (
	"errors"
	"fmt"
	"math"

	"github.com/ayusman/mudra/internal/transform"
)

// InputSize is the square edge length of the landmark model input.
const InputSize = 224

// ErrInvalidInput is returned when raw model output does not carry the
// expected 21 landmarks.
var ErrInvalidInput = errors.New("unexpected landmark tensor size")

// Result is the post-processed output of one landmark inference.
type Result struct {
	// Points holds the 21 landmarks in original-image pixel coordinates.
	Points [NumLandmarks]Point
	// WorldPoints holds the 21 landmarks in a model-relative 3D frame,
	// independent of image framing. Used for gesture reasoning only.
	WorldPoints [NumLandmarks]Point
	// Score is the sigmoid-squashed hand presence confidence.
	Score float64
	// Handedness is derived from the raw handedness logit.
	Handedness Handedness
}

// PostProcess maps raw landmark-model output into original-image pixel
// space using the inverse of the crop transform that produced the model
// input. raw and rawWorld are 21x3 row-major floats in crop space; the
// score and handedness values are raw model outputs.
//
// The caller decides whether the result's Score clears its acceptance
// threshold; PostProcess only computes.
func PostProcess(raw, rawWorld []float32, rawScore, rawHandedness float32, tform transform.CropTransform) (Result, error) {
	if len(raw) != NumLandmarks*3 {
		return Result{}, fmt.Errorf("landmarks: got %d values: %w", len(raw), ErrInvalidInput)
	}
	if len(rawWorld) != NumLandmarks*3 {
		return Result{}, fmt.Errorf("world landmarks: got %d values: %w", len(rawWorld), ErrInvalidInput)
	}

	res := Result{
		Score:      sigmoid(float64(rawScore)),
		Handedness: HandednessLeft,
	}
	if rawHandedness > 0.5 {
		res.Handedness = HandednessRight
	}

	for i := 0; i < NumLandmarks; i++ {
		// Raw x,y are crop pixels in [0, InputSize]. Unproject inverts the
		// rotation normalization and the letterbox-and-resize, clamping to
		// the crop region's extent in original coordinates to reject
		// padding artifacts. Z is relative depth and passes through
		// unscaled.
		x, y := tform.Unproject(float64(raw[i*3]), float64(raw[i*3+1]))
		res.Points[i] = Point{
			X:          x,
			Y:          y,
			Z:          float64(raw[i*3+2]),
			Visibility: res.Score,
		}

		res.WorldPoints[i] = Point{
			X:          float64(rawWorld[i*3]),
			Y:          float64(rawWorld[i*3+1]),
			Z:          float64(rawWorld[i*3+2]),
			Visibility: res.Score,
		}
	}

	return res, nil
}

// sigmoid is numerically stable for large-magnitude logits.
func sigmoid(x float64) float64 {
	if x < -100 {
		x = -100
	} else if x > 100 {
		x = 100
	}
	return 1 / (1 + math.Exp(-x))
}
