// Package anchors generates the fixed SSD anchor grid used to decode raw
// palm-detector output into box candidates. The grid is a pure function of
// its configuration and is generated once at startup; the decoder relies on
// the positional correspondence between anchor index and output-tensor row.
package anchors

// Anchor is a fixed reference point in normalized [0,1] detector-grid space.
// Anchors are immutable and shared read-only across all detection calls.
type Anchor struct {
	CenterX float32
	CenterY float32
}

// Config describes the multi-scale grid an SSD-style detector was trained
// against. Layers with equal strides are merged into a single grid whose
// cells repeat the anchors of every merged layer.
type Config struct {
	// InputSize is the square edge length of the detector input tensor.
	InputSize int
	// Strides lists the feature-map stride of each output layer, in order.
	Strides []int
	// AnchorOffsetX and AnchorOffsetY place the anchor inside its grid cell,
	// as a fraction of the cell (0.5 centers it).
	AnchorOffsetX float32
	AnchorOffsetY float32
	// InterpolatedScaleAspect controls how many anchors each layer puts in a
	// cell. The palm model uses 1.0, which gives each layer a base anchor
	// plus one interpolated anchor per cell; layers sharing a stride stack
	// their anchors in the same cell.
	InterpolatedScaleAspect float32
}

// PalmConfig returns the grid configuration of the 192x192 palm detector.
// It produces 2016 anchors: 24x24 cells with 2 anchors at stride 8 and
// 12x12 cells with 6 anchors for the three merged stride-16 layers.
func PalmConfig() Config {
	return Config{
		InputSize:               192,
		Strides:                 []int{8, 16, 16, 16},
		AnchorOffsetX:           0.5,
		AnchorOffsetY:           0.5,
		InterpolatedScaleAspect: 1.0,
	}
}

// Generate builds the ordered anchor table for the given grid configuration.
// It is deterministic: identical configs yield identical tables. Callers
// must not mutate the returned slice.
func Generate(cfg Config) []Anchor {
	var table []Anchor

	layer := 0
	for layer < len(cfg.Strides) {
		stride := cfg.Strides[layer]

		// Merge consecutive layers with the same stride into one grid pass.
		sameStride := 0
		for layer+sameStride < len(cfg.Strides) && cfg.Strides[layer+sameStride] == stride {
			sameStride++
		}

		// Each layer contributes its base anchor plus one interpolated
		// anchor when InterpolatedScaleAspect is set.
		perLayer := 1
		if cfg.InterpolatedScaleAspect > 0 {
			perLayer = 2
		}
		anchorsPerCell := perLayer * sameStride

		featureMapSize := cfg.InputSize / stride
		for y := 0; y < featureMapSize; y++ {
			cy := (float32(y) + cfg.AnchorOffsetY) / float32(featureMapSize)
			for x := 0; x < featureMapSize; x++ {
				cx := (float32(x) + cfg.AnchorOffsetX) / float32(featureMapSize)
				for a := 0; a < anchorsPerCell; a++ {
					table = append(table, Anchor{CenterX: cx, CenterY: cy})
				}
			}
		}

		layer += sameStride
	}

	return table
}
