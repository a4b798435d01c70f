// Package model owns the face detection and embedding models as expensive,
// lazily-initialized, long-lived resources shared by all requests. The
// Manager guarantees at-most-once initialization, exposes readiness for
// health reporting, and can be shut down and re-initialized.
package model

import (
	"context"
	"image"
	"time"

	"github.com/facegate/facegate/internal/imaging"
)

// Detection is one detected face: a bounding box in original image pixel
// coordinates and the detector's confidence. Ephemeral, never persisted.
type Detection struct {
	Box        imaging.Box
	Confidence float32
}

// Detector locates face regions in an image. Boxes below the confidence
// threshold are discarded before being returned. Ordering of boxes is
// not guaranteed.
type Detector interface {
	Detect(ctx context.Context, img image.Image, confThreshold float32) ([]Detection, time.Duration, error)
	Close() error
}

// Embedder turns a preprocessed face crop into a raw embedding vector.
// The returned vector is not normalized; callers L2-normalize it before
// any storage or comparison.
type Embedder interface {
	Embed(ctx context.Context, face image.Image) ([]float32, time.Duration, error)
	Dimensions() int
	Close() error
}
