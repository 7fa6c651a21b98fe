package detector

import (
	"errors"
	"math"
	"testing"

	"github.com/ayusman/mudra/internal/anchors"
	"github.com/ayusman/mudra/internal/transform"
)

// palmRaw returns zeroed regression and score tensors with every score
// pushed far below any confidence threshold.
func palmRaw(n int) ([]float32, []float32) {
	boxes := make([]float32, n*rowStride)
	scores := make([]float32, n)
	for i := range scores {
		scores[i] = -100
	}
	return boxes, scores
}

// setCandidate writes one detection into the raw tensors. Coordinates are
// normalized to the detector input; the wrist and middle-finger keypoints
// control the derived rotation.
func setCandidate(boxes, scores []float32, table []anchors.Anchor, idx int, logit float32, cx, cy, size, wristX, wristY, mcpX, mcpY float64) {
	a := table[idx]
	scale := float64(PalmInputSize)
	row := boxes[idx*rowStride : (idx+1)*rowStride]

	row[0] = float32((cx - float64(a.CenterX)) * scale)
	row[1] = float32((cy - float64(a.CenterY)) * scale)
	row[2] = float32(size * scale)
	row[3] = float32(size * scale)

	kps := [numKeypoints][2]float64{
		{wristX, wristY},
		{cx, cy},
		{mcpX, mcpY},
		{cx, cy},
		{cx, cy},
		{cx, cy},
		{cx, cy},
	}
	for k, kp := range kps {
		row[4+2*k] = float32((kp[0] - float64(a.CenterX)) * scale)
		row[5+2*k] = float32((kp[1] - float64(a.CenterY)) * scale)
	}
	scores[idx] = logit
}

func identityTransform() transform.CropTransform {
	return transform.FullImage(PalmInputSize, PalmInputSize, PalmInputSize)
}

func TestDecode(t *testing.T) {
	table := anchors.Generate(anchors.PalmConfig())
	dec := NewDecoder(table, PalmInputSize)

	t.Run("rejects tensors that disagree with the anchor table", func(t *testing.T) {
		_, scores := palmRaw(len(table))
		if _, err := dec.Decode(make([]float32, 12), scores, identityTransform(), 0.5, 0.3, 4); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("empty when everything scores below confidence", func(t *testing.T) {
		boxes, scores := palmRaw(len(table))
		got, err := dec.Decode(boxes, scores, identityTransform(), 0.5, 0.3, 4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no candidates, got %d", len(got))
		}
	})

	t.Run("decodes an upright hand", func(t *testing.T) {
		boxes, scores := palmRaw(len(table))
		// Fingers straight up: middle finger base above the wrist.
		setCandidate(boxes, scores, table, 0, 10, 0.5, 0.5, 0.2, 0.5, 0.55, 0.5, 0.45)

		got, err := dec.Decode(boxes, scores, identityTransform(), 0.5, 0.3, 4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected one candidate, got %d", len(got))
		}

		box := got[0]
		rawSize := 0.2 * PalmInputSize
		if math.Abs(box.Rotation) > 1e-9 {
			t.Errorf("upright hand should have zero rotation, got %f", box.Rotation)
		}
		if math.Abs(box.Size-rawSize*boxEnlarge) > 1e-6 {
			t.Errorf("expected size %f, got %f", rawSize*boxEnlarge, box.Size)
		}
		// The center shifts along the up axis toward the fingers.
		if math.Abs(box.CenterX-0.5*PalmInputSize) > 1e-6 {
			t.Errorf("center x should not move for zero rotation, got %f", box.CenterX)
		}
		wantY := 0.5*PalmInputSize - boxShift*rawSize
		if math.Abs(box.CenterY-wantY) > 1e-6 {
			t.Errorf("expected center y %f, got %f", wantY, box.CenterY)
		}
		if box.Score < 0.9999 {
			t.Errorf("expected near-certain score, got %f", box.Score)
		}
	})

	t.Run("derives rotation from wrist and middle finger", func(t *testing.T) {
		boxes, scores := palmRaw(len(table))
		// Fingers pointing right of the wrist.
		setCandidate(boxes, scores, table, 0, 10, 0.5, 0.5, 0.2, 0.45, 0.5, 0.55, 0.5)

		got, err := dec.Decode(boxes, scores, identityTransform(), 0.5, 0.3, 4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected one candidate, got %d", len(got))
		}
		if math.Abs(got[0].Rotation-math.Pi/2) > 1e-9 {
			t.Errorf("expected rotation pi/2, got %f", got[0].Rotation)
		}
		// Shift now moves the center along x.
		rawSize := 0.2 * PalmInputSize
		if math.Abs(got[0].CenterX-(0.5*PalmInputSize+boxShift*rawSize)) > 1e-6 {
			t.Errorf("expected shifted center x, got %f", got[0].CenterX)
		}
		if math.Abs(got[0].CenterY-0.5*PalmInputSize) > 1e-6 {
			t.Errorf("center y should not move for quarter-turn rotation, got %f", got[0].CenterY)
		}
	})

	t.Run("maps candidates through the letterbox into source pixels", func(t *testing.T) {
		boxes, scores := palmRaw(len(table))
		setCandidate(boxes, scores, table, 0, 10, 0.5, 0.5, 0.2, 0.5, 0.55, 0.5, 0.45)

		tf := transform.FullImage(640, 480, PalmInputSize)
		got, err := dec.Decode(boxes, scores, tf, 0.5, 0.3, 4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected one candidate, got %d", len(got))
		}

		// 640x480 letterboxed to 192 scales by 0.3 and pads 24 rows.
		rawSize := 0.2 * PalmInputSize / 0.3
		if math.Abs(got[0].CenterX-320) > 1e-6 {
			t.Errorf("expected center x 320, got %f", got[0].CenterX)
		}
		wantY := 240 - boxShift*rawSize
		if math.Abs(got[0].CenterY-wantY) > 1e-6 {
			t.Errorf("expected center y %f, got %f", wantY, got[0].CenterY)
		}
		if math.Abs(got[0].Size-rawSize*boxEnlarge) > 1e-6 {
			t.Errorf("expected size %f, got %f", rawSize*boxEnlarge, got[0].Size)
		}
	})

	t.Run("suppresses overlapping candidates keeping the best", func(t *testing.T) {
		boxes, scores := palmRaw(len(table))
		// Two near-identical boxes on different anchors; the higher score
		// must win.
		setCandidate(boxes, scores, table, 0, 1, 0.5, 0.5, 0.2, 0.5, 0.55, 0.5, 0.45)
		setCandidate(boxes, scores, table, 700, 2, 0.51, 0.5, 0.2, 0.51, 0.55, 0.51, 0.45)

		got, err := dec.Decode(boxes, scores, identityTransform(), 0.5, 0.3, 4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected one survivor, got %d", len(got))
		}
		if math.Abs(got[0].Score-1/(1+math.Exp(-2))) > 1e-9 {
			t.Errorf("survivor should be the higher-scored candidate, got score %f", got[0].Score)
		}
	})

	t.Run("keeps disjoint candidates in score order", func(t *testing.T) {
		boxes, scores := palmRaw(len(table))
		setCandidate(boxes, scores, table, 0, 1, 0.2, 0.5, 0.1, 0.2, 0.55, 0.2, 0.45)
		setCandidate(boxes, scores, table, 700, 2, 0.8, 0.5, 0.1, 0.8, 0.55, 0.8, 0.45)

		got, err := dec.Decode(boxes, scores, identityTransform(), 0.5, 0.3, 4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected two candidates, got %d", len(got))
		}
		if got[0].CenterX < got[1].CenterX {
			t.Error("expected the higher-scored right-side candidate first")
		}
	})

	t.Run("caps the number of detections", func(t *testing.T) {
		boxes, scores := palmRaw(len(table))
		setCandidate(boxes, scores, table, 0, 1, 0.15, 0.5, 0.05, 0.15, 0.55, 0.15, 0.45)
		setCandidate(boxes, scores, table, 700, 2, 0.5, 0.5, 0.05, 0.5, 0.55, 0.5, 0.45)
		setCandidate(boxes, scores, table, 1400, 3, 0.85, 0.5, 0.05, 0.85, 0.55, 0.85, 0.45)

		got, err := dec.Decode(boxes, scores, identityTransform(), 0.5, 0.3, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected the cap to hold, got %d candidates", len(got))
		}
	})
}

func TestNormalizeRadians(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi / 2},
		{5 * math.Pi, math.Pi},
	}
	for _, c := range cases {
		if got := normalizeRadians(c.in); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("normalizeRadians(%f) = %f, want %f", c.in, got, c.want)
		}
	}
}
