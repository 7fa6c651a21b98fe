// Package transform computes the similarity crop used to feed detected hand
// regions to the landmark model, and the inverse mapping that carries
// landmark coordinates back into original-image pixel space.
package transform

import (
	"errors"
	"math"
)

// ErrInvalidRegion is returned when a crop region has no positive area
// inside the image, for example when a box sits fully outside the frame.
// Callers treat it as "skip this candidate".
var ErrInvalidRegion = errors.New("crop region has no area inside the image")

// CropTransform maps pixel coordinates in a padded, resized square crop back
// to original-image pixel coordinates. Project and Unproject are exact
// inverses of each other up to floating-point rounding and the region clamp.
type CropTransform struct {
	// ScaleX and ScaleY are the ratios of resized to source-region size per
	// axis. They differ only when the source region itself is not square.
	ScaleX float64
	ScaleY float64

	// HalfPadX and HalfPadY are the letterbox pads added on the leading
	// edge of each axis, floored to whole pixels.
	HalfPadX float64
	HalfPadY float64

	// Rotation is the in-plane rotation of the source box. Crop space is
	// rotation-normalized: the mapping rotates about CropCenter so the
	// box's up-axis aligns with crop up.
	Rotation float64

	// CropCenter is the rotation pivot in crop space, half the target
	// edge on both axes.
	CropCenter float64

	// OriginX and OriginY are the top-left corner of the crop region in
	// original-image pixels; RegionWidth and RegionHeight are its extent.
	OriginX      float64
	OriginY      float64
	RegionWidth  float64
	RegionHeight float64
}

// ForBox computes the crop transform for an oriented box with the given
// center, square size and rotation, clipped against an imgW x imgH image
// and letterboxed into a target x target square. The region is the minimal
// axis-aligned rectangle covering the rotated box, so the hand stays inside
// the crop at any rotation; the transform then rotates crop space about its
// center so the box's up-axis lands on crop up.
func ForBox(cx, cy, size, rotation float64, imgW, imgH, target int) (CropTransform, error) {
	half := size / 2 * (math.Abs(math.Cos(rotation)) + math.Abs(math.Sin(rotation)))

	x0 := math.Floor(cx - half)
	y0 := math.Floor(cy - half)
	x1 := math.Ceil(cx + half)
	y1 := math.Ceil(cy + half)

	// Clip to image bounds so pixel extraction never reads out of range.
	x0 = math.Max(x0, 0)
	y0 = math.Max(y0, 0)
	x1 = math.Min(x1, float64(imgW))
	y1 = math.Min(y1, float64(imgH))

	if x1-x0 < 1 || y1-y0 < 1 {
		return CropTransform{}, ErrInvalidRegion
	}

	t := letterbox(x1-x0, y1-y0, target)
	t.Rotation = rotation
	t.OriginX = x0
	t.OriginY = y0
	return t, nil
}

// FullImage returns the transform for letterboxing an entire imgW x imgH
// image into a target square, as done for the palm-detector input.
func FullImage(imgW, imgH, target int) CropTransform {
	return letterbox(float64(imgW), float64(imgH), target)
}

// letterbox computes the aspect-preserving fit of a w x h region into a
// target square with centered zero padding.
func letterbox(w, h float64, target int) CropTransform {
	fit := math.Min(float64(target)/w, float64(target)/h)

	resizedW := math.Max(1, math.Round(w*fit))
	resizedH := math.Max(1, math.Round(h*fit))

	return CropTransform{
		ScaleX:       resizedW / w,
		ScaleY:       resizedH / h,
		HalfPadX:     math.Floor((float64(target) - resizedW) / 2),
		HalfPadY:     math.Floor((float64(target) - resizedH) / 2),
		CropCenter:   float64(target) / 2,
		RegionWidth:  w,
		RegionHeight: h,
	}
}

// ResizedDims returns the pre-padding resized dimensions of the crop.
func (t CropTransform) ResizedDims() (int, int) {
	return int(math.Round(t.RegionWidth * t.ScaleX)), int(math.Round(t.RegionHeight * t.ScaleY))
}

// Project maps an original-image pixel coordinate into crop space. With a
// nonzero rotation the result is rotation-normalized: a point along the
// box's up-axis from the region center projects above CropCenter.
func (t CropTransform) Project(x, y float64) (float64, float64) {
	u := (x-t.OriginX)*t.ScaleX + t.HalfPadX
	v := (y-t.OriginY)*t.ScaleY + t.HalfPadY
	if t.Rotation == 0 {
		return u, v
	}

	sin, cos := math.Sincos(t.Rotation)
	du, dv := u-t.CropCenter, v-t.CropCenter
	return t.CropCenter + du*cos + dv*sin,
		t.CropCenter - du*sin + dv*cos
}

// Unproject maps a crop-space coordinate back to original-image pixels,
// undoing the rotation normalization first. The result is clamped to the
// crop region's extent in original coordinates, which rejects points that
// landed in letterbox padding.
func (t CropTransform) Unproject(x, y float64) (float64, float64) {
	if t.Rotation != 0 {
		sin, cos := math.Sincos(t.Rotation)
		du, dv := x-t.CropCenter, y-t.CropCenter
		x = t.CropCenter + du*cos - dv*sin
		y = t.CropCenter + du*sin + dv*cos
	}

	rx := (x - t.HalfPadX) / t.ScaleX
	ry := (y - t.HalfPadY) / t.ScaleY

	rx = clamp(rx, 0, t.RegionWidth)
	ry = clamp(ry, 0, t.RegionHeight)

	return t.OriginX + rx, t.OriginY + ry
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
