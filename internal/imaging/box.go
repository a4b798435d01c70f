// Package imaging provides the face preprocessing primitives shared by the
// detector, the identification pipeline, and the enrollment path: image
// decoding, bounding box geometry, clamped cropping, and deterministic
// resizing to model input dimensions.
package imaging

import (
	"image"
	"sort"
)

// Box is a face bounding box in pixel coordinates with x1 < x2, y1 < y2.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Clip clamps the box to the bounds of a width x height image.
// Out-of-range boxes are clamped rather than rejected.
func (b Box) Clip(width, height int) Box {
	return Box{
		X1: max(b.X1, 0),
		Y1: max(b.Y1, 0),
		X2: min(b.X2, float64(width)),
		Y2: min(b.Y2, float64(height)),
	}
}

// Rect converts the box to an image.Rectangle, truncating to pixels.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Area returns the box area in square pixels.
func (b Box) Area() float64 {
	if b.Empty() {
		return 0
	}
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// IoU calculates Intersection over Union between two bounding boxes
// in the same coordinate system.
func IoU(a, b Box) float64 {
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}

// ScoredBox pairs a bounding box with a detection confidence.
type ScoredBox struct {
	Box        Box
	Confidence float32
}

// NonMaxSuppression filters overlapping detections, keeping the highest
// confidence box of each overlapping group. Boxes with IoU above the
// threshold against an already-kept box are discarded.
func NonMaxSuppression(boxes []ScoredBox, iouThreshold float64) []ScoredBox {
	if len(boxes) <= 1 {
		return boxes
	}

	sorted := make([]ScoredBox, len(boxes))
	copy(sorted, boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]ScoredBox, 0, len(sorted))
	for _, candidate := range sorted {
		overlaps := false
		for _, k := range kept {
			if IoU(candidate.Box, k.Box) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, candidate)
		}
	}

	return kept
}
