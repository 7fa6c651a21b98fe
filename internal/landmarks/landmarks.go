// Package landmarks defines the 21-point hand landmark model and the
// post-processing that maps raw landmark-regressor output back into
// original-image pixel coordinates.
package landmarks

// Hand landmark indices following the MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Point is one anatomical landmark. X and Y are absolute original-image
// pixel coordinates after post-processing; Z is relative depth with the
// wrist as reference, in no physical unit. Visibility is in [0,1].
type Point struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Handedness classifies which hand a detection belongs to.
type Handedness string

const (
	// HandednessLeft is a left hand.
	HandednessLeft Handedness = "left"
	// HandednessRight is a right hand.
	HandednessRight Handedness = "right"
)
