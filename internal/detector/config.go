package detector

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ayusman/mudra/internal/infer"
)

// Mode selects how much of the pipeline runs per detection call.
type Mode string

const (
	// ModeBoxes stops after palm decoding; hands carry boxes only.
	ModeBoxes Mode = "boxes"
	// ModeBoxesAndLandmarks runs the landmark model on every surviving box.
	ModeBoxesAndLandmarks Mode = "boxesAndLandmarks"
)

// PixelFormat describes the layout of a raw pixel buffer passed to
// DetectPixels.
type PixelFormat string

const (
	FormatBGR  PixelFormat = "bgr"
	FormatRGB  PixelFormat = "rgb"
	FormatRGBA PixelFormat = "rgba"
	FormatGray PixelFormat = "gray"
)

// Config holds configuration options for hand detection.
type Config struct {
	// Mode selects boxes-only or full landmark output.
	Mode Mode `validate:"oneof=boxes boxesAndLandmarks"`

	// DetectorConf is the minimum palm score to keep a candidate (0-1).
	DetectorConf float64 `validate:"gte=0,lte=1"`

	// DetectorIoU is the NMS overlap threshold (0-1).
	DetectorIoU float64 `validate:"gte=0,lte=1"`

	// MaxDetections bounds the number of hands returned per call.
	MaxDetections int `validate:"gte=1"`

	// MinLandmarkScore discards candidates whose landmark confidence
	// falls below it (0-1).
	MinLandmarkScore float64 `validate:"gte=0,lte=1"`

	// PoolSize is the number of landmark interpreter instances.
	PoolSize int `validate:"gte=1"`

	// Acceleration selects the inference backend; accelerator setup
	// failures degrade to CPU.
	Acceleration infer.Acceleration

	// Threads caps inference threads when positive.
	Threads int `validate:"gte=0"`

	// EnableGestures runs the gesture classifier on each hand with
	// landmarks.
	EnableGestures bool

	// GestureMinConfidence forces gestures below it to unknown (0-1).
	GestureMinConfidence float64 `validate:"gte=0,lte=1"`

	// Model file paths, used by New. NewFromFactories ignores them.
	PalmModelPath       string
	LandmarkModelPath   string
	EmbedderModelPath   string
	ClassifierModelPath string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Mode:                 ModeBoxesAndLandmarks,
		DetectorConf:         0.5,
		DetectorIoU:          0.3,
		MaxDetections:        2,
		MinLandmarkScore:     0.5,
		PoolSize:             2,
		Acceleration:         infer.AccelDisabled,
		GestureMinConfidence: 0.5,
	}
}

var validate = validator.New()

// Validate checks that all thresholds and sizes are in range.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("detector config: %w", err)
	}
	return nil
}
