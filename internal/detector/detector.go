// Package detector implements the two-stage hand detection pipeline: a
// palm detector whose output is decoded against a fixed anchor table, and
// a landmark regressor run on a rotation-aware crop of every surviving
// candidate.
package detector

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/anchors"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/infer"
	"github.com/ayusman/mudra/internal/landmarks"
	"github.com/ayusman/mudra/internal/transform"
)

// PalmInputSize is the square edge length of the palm-detector input.
const PalmInputSize = 192

// Output layer names of the two models, in the order the pipeline
// consumes them.
var (
	palmOutputNames     = []string{"regressors", "classificators"}
	landmarkOutputNames = []string{"landmarks", "score", "handedness", "world_landmarks"}

	embedderInputNames    = []string{"hand_landmarks", "handedness", "world_hand_landmarks"}
	embedderOutputNames   = []string{"embedding"}
	classifierInputNames  = []string{"embedding"}
	classifierOutputNames = []string{"probabilities"}
)

// HandDetector runs the full pipeline: palm decode, per-candidate crop,
// landmark regression through a bounded interpreter pool, and optional
// gesture classification. Calls are serialized; concurrency happens across
// candidates inside one call, bounded by the pool size.
type HandDetector struct {
	mu          sync.Mutex
	config      Config
	decoder     *Decoder
	palm        *infer.Pool
	landmark    *infer.Pool
	classifier  *gesture.Classifier
	initialized bool
}

// New loads the models named in cfg from disk and builds the pipeline.
func New(cfg Config) (*HandDetector, error) {
	palmF := func() (infer.Interpreter, error) {
		return infer.NewNetInterpreter(cfg.PalmModelPath, PalmInputSize, PalmInputSize, palmOutputNames, cfg.Acceleration)
	}
	landmarkF := func() (infer.Interpreter, error) {
		return infer.NewNetInterpreter(cfg.LandmarkModelPath, landmarks.InputSize, landmarks.InputSize, landmarkOutputNames, cfg.Acceleration)
	}

	var embedder, classifier infer.Interpreter
	if cfg.EnableGestures {
		var err error
		embedder, err = infer.NewTensorNetInterpreter(cfg.EmbedderModelPath,
			embedderInputNames, embedderOutputNames, cfg.Acceleration)
		if err != nil {
			return nil, fmt.Errorf("%w: gesture embedder: %v", ErrResourceInit, err)
		}
		classifier, err = infer.NewTensorNetInterpreter(cfg.ClassifierModelPath,
			classifierInputNames, classifierOutputNames, cfg.Acceleration)
		if err != nil {
			embedder.Close()
			return nil, fmt.Errorf("%w: gesture classifier: %v", ErrResourceInit, err)
		}
	}

	return NewFromFactories(cfg, palmF, landmarkF, embedder, classifier)
}

// ModelBytes carries preloaded model weights for embedders that bundle
// models inside the binary or fetch them remotely instead of shipping
// model files. Embedder and Classifier are only required when gestures
// are enabled.
type ModelBytes struct {
	Palm       []byte
	Landmark   []byte
	Embedder   []byte
	Classifier []byte
}

// NewFromModelBytes builds the pipeline from in-memory model weights; the
// model paths in cfg are ignored.
func NewFromModelBytes(cfg Config, models ModelBytes) (*HandDetector, error) {
	if len(models.Palm) == 0 {
		return nil, fmt.Errorf("%w: empty palm model bytes", ErrInvalidInput)
	}
	if cfg.Mode == ModeBoxesAndLandmarks && len(models.Landmark) == 0 {
		return nil, fmt.Errorf("%w: empty landmark model bytes", ErrInvalidInput)
	}

	palmF := func() (infer.Interpreter, error) {
		return infer.NewNetInterpreterFromBytes(models.Palm, PalmInputSize, PalmInputSize, palmOutputNames, cfg.Acceleration)
	}
	landmarkF := func() (infer.Interpreter, error) {
		return infer.NewNetInterpreterFromBytes(models.Landmark, landmarks.InputSize, landmarks.InputSize, landmarkOutputNames, cfg.Acceleration)
	}

	var embedder, classifier infer.Interpreter
	if cfg.EnableGestures {
		if len(models.Embedder) == 0 || len(models.Classifier) == 0 {
			return nil, fmt.Errorf("%w: gestures enabled without embedder and classifier model bytes", ErrInvalidInput)
		}
		var err error
		embedder, err = infer.NewTensorNetInterpreterFromBytes(models.Embedder,
			embedderInputNames, embedderOutputNames, cfg.Acceleration)
		if err != nil {
			return nil, fmt.Errorf("%w: gesture embedder: %v", ErrResourceInit, err)
		}
		classifier, err = infer.NewTensorNetInterpreterFromBytes(models.Classifier,
			classifierInputNames, classifierOutputNames, cfg.Acceleration)
		if err != nil {
			embedder.Close()
			return nil, fmt.Errorf("%w: gesture classifier: %v", ErrResourceInit, err)
		}
	}

	return NewFromFactories(cfg, palmF, landmarkF, embedder, classifier)
}

// NewFromFactories builds the pipeline from interpreter factories. The
// palm model runs on a single pooled instance; the landmark model gets
// cfg.PoolSize instances. embedder and classifier may be nil when gestures
// are disabled.
func NewFromFactories(cfg Config, palmF, landmarkF infer.Factory, embedder, classifier infer.Interpreter) (*HandDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Threads > 0 {
		gocv.SetNumThreads(cfg.Threads)
	}

	palmPool, err := infer.NewPool(1, palmF)
	if err != nil {
		return nil, fmt.Errorf("%w: palm model: %v", ErrResourceInit, err)
	}

	var landmarkPool *infer.Pool
	if cfg.Mode == ModeBoxesAndLandmarks {
		landmarkPool, err = infer.NewPool(cfg.PoolSize, landmarkF)
		if err != nil {
			palmPool.Close()
			return nil, fmt.Errorf("%w: landmark model: %v", ErrResourceInit, err)
		}
	}

	d := &HandDetector{
		config:      cfg,
		decoder:     NewDecoder(anchors.Generate(anchors.PalmConfig()), PalmInputSize),
		palm:        palmPool,
		landmark:    landmarkPool,
		initialized: true,
	}
	if cfg.EnableGestures && embedder != nil && classifier != nil {
		d.classifier = gesture.NewClassifier(embedder, classifier, cfg.GestureMinConfidence)
	}
	return d, nil
}

// Detect decodes an encoded image (JPEG, PNG, ...) and runs the pipeline.
func (d *HandDetector) Detect(encoded []byte) ([]Hand, error) {
	mat, err := gocv.IMDecode(encoded, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrInvalidInput, err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("%w: image decoded to empty frame", ErrInvalidInput)
	}
	return d.DetectMat(&mat)
}

// DetectPixels runs the pipeline on a raw pixel buffer.
func (d *HandDetector) DetectPixels(data []byte, width, height int, format PixelFormat) ([]Hand, error) {
	var matType gocv.MatType
	var channels int
	switch format {
	case FormatBGR, FormatRGB:
		matType, channels = gocv.MatTypeCV8UC3, 3
	case FormatRGBA:
		matType, channels = gocv.MatTypeCV8UC4, 4
	case FormatGray:
		matType, channels = gocv.MatTypeCV8UC1, 1
	default:
		return nil, fmt.Errorf("%w: unsupported pixel format %q", ErrInvalidInput, format)
	}
	if width < 1 || height < 1 || len(data) != width*height*channels {
		return nil, fmt.Errorf("%w: %dx%d %s buffer wants %d bytes, got %d",
			ErrInvalidInput, width, height, format, width*height*channels, len(data))
	}

	raw, err := gocv.NewMatFromBytes(height, width, matType, data)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap pixel buffer: %v", ErrInvalidInput, err)
	}
	defer raw.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	switch format {
	case FormatBGR:
		raw.CopyTo(&frame)
	case FormatRGB:
		gocv.CvtColor(raw, &frame, gocv.ColorRGBToBGR)
	case FormatRGBA:
		gocv.CvtColor(raw, &frame, gocv.ColorRGBAToBGR)
	case FormatGray:
		gocv.CvtColor(raw, &frame, gocv.ColorGrayToBGR)
	}

	return d.DetectMat(&frame)
}

// DetectMat runs the pipeline on a decoded BGR frame. An image with no
// hands yields an empty slice, not an error. Per-candidate failures
// (degenerate crops, low landmark confidence) skip that candidate only.
func (d *HandDetector) DetectMat(frame *gocv.Mat) ([]Hand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil, ErrNotInitialized
	}
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidInput)
	}

	imgW, imgH := frame.Cols(), frame.Rows()

	letterTf := transform.FullImage(imgW, imgH, PalmInputSize)
	letter, err := transform.Crop(frame, letterTf, PalmInputSize)
	if err != nil {
		return nil, fmt.Errorf("letterbox detector input: %w", err)
	}
	defer letter.Close()

	input, err := imageTensor(&letter)
	if err != nil {
		return nil, err
	}

	var regression, scores infer.Tensor
	err = d.palm.Do(func(in infer.Interpreter) error {
		outs, err := in.Invoke([]infer.Tensor{input})
		if err != nil {
			return err
		}
		if len(outs) < 2 {
			return fmt.Errorf("%w: palm model returned %d outputs", ErrInvalidInput, len(outs))
		}
		regression, scores = outs[0], outs[1]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("palm inference: %w", err)
	}

	boxes, err := d.decoder.Decode(regression.Data, scores.Data, letterTf,
		d.config.DetectorConf, d.config.DetectorIoU, d.config.MaxDetections)
	if err != nil {
		return nil, err
	}

	hands := make([]Hand, 0, len(boxes))
	if d.config.Mode == ModeBoxes {
		for _, box := range boxes {
			hands = append(hands, boxHand(box, imgW, imgH))
		}
		return hands, nil
	}

	// Candidates run concurrently, bounded by the landmark pool; results
	// are written back by index so pool scheduling cannot reorder output.
	results := make([]*Hand, len(boxes))
	var wg sync.WaitGroup
	for i, box := range boxes {
		wg.Add(1)
		go func(i int, box OrientedBox) {
			defer wg.Done()
			results[i] = d.processCandidate(frame, box, imgW, imgH)
		}(i, box)
	}
	wg.Wait()

	for _, r := range results {
		if r != nil {
			hands = append(hands, *r)
		}
	}
	return hands, nil
}

// processCandidate crops one box, runs landmark inference and gesture
// classification, and returns nil when the candidate should be skipped.
func (d *HandDetector) processCandidate(frame *gocv.Mat, box OrientedBox, imgW, imgH int) *Hand {
	tf, err := transform.ForBox(box.CenterX, box.CenterY, box.Size, box.Rotation, imgW, imgH, landmarks.InputSize)
	if err != nil {
		return nil
	}

	crop, err := transform.Crop(frame, tf, landmarks.InputSize)
	if err != nil {
		return nil
	}
	defer crop.Close()

	input, err := imageTensor(&crop)
	if err != nil {
		return nil
	}

	var outs []infer.Tensor
	err = d.landmark.Do(func(in infer.Interpreter) error {
		var err error
		outs, err = in.Invoke([]infer.Tensor{input})
		return err
	})
	if err != nil || len(outs) != 4 || len(outs[1].Data) < 1 || len(outs[2].Data) < 1 {
		return nil
	}

	res, err := landmarks.PostProcess(outs[0].Data, outs[3].Data, outs[1].Data[0], outs[2].Data[0], tf)
	if err != nil {
		return nil
	}
	if res.Score < d.config.MinLandmarkScore {
		return nil
	}

	hand := landmarkHand(box, &res, imgW, imgH)
	if d.classifier != nil {
		if g, err := d.classifier.Classify(hand.Landmarks, hand.WorldLandmarks, res.Handedness, imgW, imgH); err == nil {
			hand.Gesture = &g
		}
	}
	return &hand
}

// Dispose releases all pooled interpreters. It is idempotent; a disposed
// detector fails subsequent calls with ErrNotInitialized.
func (d *HandDetector) Dispose() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil
	}
	d.initialized = false

	var firstErr error
	if err := d.palm.Close(); err != nil {
		firstErr = err
	}
	if d.landmark != nil {
		if err := d.landmark.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.classifier != nil {
		if err := d.classifier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// imageTensor converts a BGR crop into a normalized [1, h, w, 3] RGB
// tensor for the inference engine.
func imageTensor(m *gocv.Mat) (infer.Tensor, error) {
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(*m, &rgb, gocv.ColorBGRToRGB)

	scaled := gocv.NewMat()
	defer scaled.Close()
	rgb.ConvertToWithParams(&scaled, gocv.MatTypeCV32FC3, 1.0/255.0, 0)

	data, err := scaled.DataPtrFloat32()
	if err != nil {
		return infer.Tensor{}, fmt.Errorf("read tensor data: %w", err)
	}

	t := infer.Tensor{
		Shape: []int{1, m.Rows(), m.Cols(), 3},
		Data:  make([]float32, len(data)),
	}
	copy(t.Data, data)
	return t, nil
}
