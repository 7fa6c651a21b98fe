package detector

import (
	"fmt"
	"math"
	"sort"

	"github.com/ayusman/mudra/internal/anchors"
	"github.com/ayusman/mudra/internal/transform"
)

// Palm decoder constants. The raw output row layout is four box regression
// values followed by seven keypoint offsets; keypoints 0 (wrist center) and
// 2 (middle-finger base) are the rotation references.
const (
	numKeypoints = 7
	rowStride    = 4 + 2*numKeypoints

	kpWrist     = 0
	kpMiddleMCP = 2

	// The detector box under-covers the hand, so the decoded square is
	// enlarged and re-centered toward the fingers before cropping.
	boxEnlarge = 2.6
	boxShift   = 0.5
)

// RawDetection is one decoded candidate in the normalized space of the
// detector input, before enlargement and suppression.
type RawDetection struct {
	Score     float64
	CenterX   float64
	CenterY   float64
	Width     float64
	Height    float64
	Keypoints [numKeypoints][2]float64
}

// OrientedBox is a candidate that survived scoring. Coordinates are pixels
// of the image the detector ran on; the box is square after the enlarge
// step, and Rotation points the box's up direction from wrist toward
// fingers.
type OrientedBox struct {
	CenterX  float64
	CenterY  float64
	Size     float64
	Rotation float64
	Score    float64
}

// Decoder turns raw palm-detector tensors into oriented box candidates
// using a fixed anchor table. The anchor order must match the model's
// output rows exactly.
type Decoder struct {
	anchors   []anchors.Anchor
	inputSize int
}

// NewDecoder creates a decoder over the given anchor table.
func NewDecoder(table []anchors.Anchor, inputSize int) *Decoder {
	return &Decoder{anchors: table, inputSize: inputSize}
}

// Decode converts raw regression and score tensors into scored, oriented,
// pixel-space boxes: sigmoid scoring with confidence filtering, SSD-style
// anchor-relative decoding, rotation estimation, enlarge-and-square, and
// greedy NMS. tform is the letterbox transform that produced the detector
// input, used to carry candidates back into source-image pixels. The
// result is ordered by descending score and holds at most maxDetections
// entries.
//
// A tensor length that disagrees with the anchor table is a contract
// violation with the model wrapper and fails the call.
func (d *Decoder) Decode(rawBoxes, rawScores []float32, tform transform.CropTransform, conf, iou float64, maxDetections int) ([]OrientedBox, error) {
	n := len(d.anchors)
	if len(rawScores) != n || len(rawBoxes) != n*rowStride {
		return nil, fmt.Errorf("decoder: %d anchors but %d scores and %d regression values: %w",
			n, len(rawScores), len(rawBoxes), ErrInvalidInput)
	}

	var candidates []OrientedBox
	for i := 0; i < n; i++ {
		score := sigmoid(float64(rawScores[i]))
		if score < conf {
			continue
		}

		det := d.decodeRow(rawBoxes[i*rowStride:(i+1)*rowStride], d.anchors[i], score)
		candidates = append(candidates, enlargeAndSquare(toPixels(det, d.inputSize, tform)))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	return suppress(candidates, iou, maxDetections), nil
}

// decodeRow applies SSD-style anchor-relative decoding to one output row.
func (d *Decoder) decodeRow(row []float32, anchor anchors.Anchor, score float64) RawDetection {
	scale := float64(d.inputSize)

	det := RawDetection{
		Score:   score,
		CenterX: float64(anchor.CenterX) + float64(row[0])/scale,
		CenterY: float64(anchor.CenterY) + float64(row[1])/scale,
		Width:   float64(row[2]) / scale,
		Height:  float64(row[3]) / scale,
	}
	for k := 0; k < numKeypoints; k++ {
		det.Keypoints[k][0] = float64(anchor.CenterX) + float64(row[4+2*k])/scale
		det.Keypoints[k][1] = float64(anchor.CenterY) + float64(row[5+2*k])/scale
	}
	return det
}

// toPixels maps a normalized detection into source-image pixel space and
// derives the in-plane rotation from the wrist and middle-finger keypoints.
// Rotation zero means fingers straight up; positive tilts clockwise.
func toPixels(det RawDetection, inputSize int, tform transform.CropTransform) OrientedBox {
	scale := float64(inputSize)

	cx, cy := tform.Unproject(det.CenterX*scale, det.CenterY*scale)
	wx, wy := tform.Unproject(det.Keypoints[kpWrist][0]*scale, det.Keypoints[kpWrist][1]*scale)
	mx, my := tform.Unproject(det.Keypoints[kpMiddleMCP][0]*scale, det.Keypoints[kpMiddleMCP][1]*scale)

	return OrientedBox{
		CenterX:  cx,
		CenterY:  cy,
		Size:     math.Max(det.Width*scale/tform.ScaleX, det.Height*scale/tform.ScaleY),
		Rotation: normalizeRadians(math.Atan2(mx-wx, wy-my)),
		Score:    det.Score,
	}
}

// enlargeAndSquare grows the box by the fixed enlarge factor and shifts
// its center along the rotated up axis toward the fingers.
func enlargeAndSquare(box OrientedBox) OrientedBox {
	shift := boxShift * box.Size
	box.CenterX += math.Sin(box.Rotation) * shift
	box.CenterY -= math.Cos(box.Rotation) * shift
	box.Size *= boxEnlarge
	return box
}

// suppress runs greedy NMS over score-descending candidates. Overlap is
// computed on the axis-aligned bounds; rotation is deliberately ignored so
// detection counts stay stable against existing footage.
func suppress(sorted []OrientedBox, iouThreshold float64, maxDetections int) []OrientedBox {
	kept := make([]OrientedBox, 0, maxDetections)
	for _, cand := range sorted {
		if len(kept) >= maxDetections {
			break
		}
		overlaps := false
		for _, k := range kept {
			if iou(k, cand) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, cand)
		}
	}
	return kept
}

// iou computes intersection-over-union on the axis-aligned bounds of the
// two boxes.
func iou(a, b OrientedBox) float64 {
	ix := overlap1D(a.CenterX, a.Size, b.CenterX, b.Size)
	iy := overlap1D(a.CenterY, a.Size, b.CenterY, b.Size)
	inter := ix * iy
	if inter <= 0 {
		return 0
	}
	union := a.Size*a.Size + b.Size*b.Size - inter
	return inter / union
}

func overlap1D(c1, s1, c2, s2 float64) float64 {
	lo := math.Max(c1-s1/2, c2-s2/2)
	hi := math.Min(c1+s1/2, c2+s2/2)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// normalizeRadians wraps an angle into (-pi, pi].
func normalizeRadians(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
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
