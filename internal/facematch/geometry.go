package facematch

import "image"

// Region is a face bounding box in pixel coordinates, in the (top, right, bottom, left)
// order emitted by dlib-based detectors.
type Region struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Width returns the horizontal extent of the region.
func (r Region) Width() int {
	return r.Right - r.Left
}

// Height returns the vertical extent of the region.
func (r Region) Height() int {
	return r.Bottom - r.Top
}

// Empty reports whether the region has no area.
func (r Region) Empty() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// Scale maps a region detected on a downscaled frame back to the full-size frame.
// sx and sy are fullWidth/smallWidth and fullHeight/smallHeight.
func (r Region) Scale(sx, sy float64) Region {
	return Region{
		Top:    int(float64(r.Top) * sy),
		Right:  int(float64(r.Right) * sx),
		Bottom: int(float64(r.Bottom) * sy),
		Left:   int(float64(r.Left) * sx),
	}
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

// Clamp restricts the region to the given bounds.
func (r Region) Clamp(bounds image.Rectangle) Region {
	rect := r.Rect().Intersect(bounds)
	return Region{Top: rect.Min.Y, Right: rect.Max.X, Bottom: rect.Max.Y, Left: rect.Min.X}
}

// ComputeIoU calculates Intersection over Union between two regions.
// Used to tell whether two detections in the same frame cover the same face.
func ComputeIoU(a, b Region) float64 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0
	}
	intersection := float64(inter.Dx() * inter.Dy())
	union := float64(a.Width()*a.Height()+b.Width()*b.Height()) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
