package detector

import (
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/landmarks"
)

// Box is an axis-aligned bounding box in original-image pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RotatedBox carries the oriented detector box for callers that want
// rotation-aware rendering.
type RotatedBox struct {
	CenterX  float64 `json:"centerX"`
	CenterY  float64 `json:"centerY"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
}

// Hand is one detected hand. It is constructed once per detection call and
// immutable afterward. BoundingBox is the detector's enlarged box; the
// rotation data coexists with it in Rotated. Landmarks and WorldLandmarks
// are present only in landmark mode, Gesture only when classification is
// enabled. Coordinates are relative to an ImageWidth x ImageHeight image.
type Hand struct {
	BoundingBox    Box                  `json:"boundingBox"`
	Rotated        *RotatedBox          `json:"rotated,omitempty"`
	Handedness     landmarks.Handedness `json:"handedness,omitempty"`
	Landmarks      []landmarks.Point    `json:"landmarks,omitempty"`
	WorldLandmarks []landmarks.Point    `json:"worldLandmarks,omitempty"`
	Gesture        *gesture.Result      `json:"gesture,omitempty"`
	Score          float64              `json:"score"`
	ImageWidth     int                  `json:"imageWidth"`
	ImageHeight    int                  `json:"imageHeight"`
}

// boxHand builds a Hand from a surviving detector box alone.
func boxHand(box OrientedBox, imgW, imgH int) Hand {
	return Hand{
		BoundingBox: Box{
			X:      box.CenterX - box.Size/2,
			Y:      box.CenterY - box.Size/2,
			Width:  box.Size,
			Height: box.Size,
		},
		Rotated: &RotatedBox{
			CenterX:  box.CenterX,
			CenterY:  box.CenterY,
			Width:    box.Size,
			Height:   box.Size,
			Rotation: box.Rotation,
		},
		Score:       box.Score,
		ImageWidth:  imgW,
		ImageHeight: imgH,
	}
}

// landmarkHand extends a box hand with post-processed landmark output.
func landmarkHand(box OrientedBox, res *landmarks.Result, imgW, imgH int) Hand {
	h := boxHand(box, imgW, imgH)
	h.Handedness = res.Handedness
	h.Score = res.Score
	h.Landmarks = append([]landmarks.Point(nil), res.Points[:]...)
	h.WorldLandmarks = append([]landmarks.Point(nil), res.WorldPoints[:]...)
	return h
}
