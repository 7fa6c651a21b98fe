package transform

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// Crop extracts the transform's region from src, letterboxes it into a
// target x target BGR Mat and rotation-normalizes it, so a rotated hand
// comes out upright. The caller owns the returned Mat and must close it.
// Region bounds are already clipped to the image, so no out-of-range
// pixels are requested; padding and rotation spill-over are synthesized as
// black borders.
func Crop(src *gocv.Mat, t CropTransform, target int) (gocv.Mat, error) {
	if src == nil || src.Empty() {
		return gocv.Mat{}, fmt.Errorf("crop: %w", ErrInvalidRegion)
	}

	rect := image.Rect(
		int(t.OriginX),
		int(t.OriginY),
		int(t.OriginX+t.RegionWidth),
		int(t.OriginY+t.RegionHeight),
	)
	if rect.Dx() < 1 || rect.Dy() < 1 {
		return gocv.Mat{}, fmt.Errorf("crop: %w", ErrInvalidRegion)
	}

	region := src.Region(rect)
	defer region.Close()

	resizedW, resizedH := t.ResizedDims()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(region, &resized, image.Pt(resizedW, resizedH), 0, 0, gocv.InterpolationLinear)

	left := int(t.HalfPadX)
	top := int(t.HalfPadY)
	right := target - resizedW - left
	bottom := target - resizedH - top

	out := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &out, top, bottom, left, right, gocv.BorderConstant, color.RGBA{})

	if t.Rotation == 0 {
		return out, nil
	}

	// Rotate the letterboxed square about its center so the box's up-axis
	// aligns with crop up, matching Project/Unproject. Positive angles are
	// counter-clockwise in OpenCV's convention.
	rot := gocv.GetRotationMatrix2D(image.Pt(target/2, target/2), t.Rotation*180/math.Pi, 1.0)
	defer rot.Close()

	warped := gocv.NewMat()
	if err := gocv.WarpAffine(out, &warped, rot, image.Pt(target, target)); err != nil {
		warped.Close()
		out.Close()
		return gocv.Mat{}, fmt.Errorf("rotate crop: %w", err)
	}
	out.Close()

	return warped, nil
}
