package model

import (
	"context"
	"image"
	"math"
	"time"
)

// MockDetector is a configurable detector for tests. It returns its
// configured detections filtered by the confidence threshold.
type MockDetector struct {
	Detections []Detection
	Err        error
}

func (d *MockDetector) Detect(_ context.Context, _ image.Image, confThreshold float32) ([]Detection, time.Duration, error) {
	if d.Err != nil {
		return nil, 0, d.Err
	}
	var kept []Detection
	for _, det := range d.Detections {
		if det.Confidence >= confThreshold {
			kept = append(kept, det)
		}
	}
	return kept, time.Millisecond, nil
}

func (d *MockDetector) Close() error {
	return nil
}

// MockEmbedder is a deterministic embedder for tests. The raw embedding
// is derived from the crop's mean color, so visually similar crops get
// similar embeddings and identical crops get identical ones. An entirely
// black crop yields the zero vector, which exercises the degenerate
// normalize path.
type MockEmbedder struct {
	Dim int
	Err error
}

func (e *MockEmbedder) Embed(_ context.Context, face image.Image) ([]float32, time.Duration, error) {
	if e.Err != nil {
		return nil, 0, e.Err
	}

	bounds := face.Bounds()
	var sumR, sumG, sumB, n float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := face.At(x, y).RGBA()
			sumR += float64(r >> 8)
			sumG += float64(g >> 8)
			sumB += float64(b >> 8)
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	means := [3]float64{sumR / n / 255, sumG / n / 255, sumB / n / 255}

	emb := make([]float32, e.Dim)
	for i := range emb {
		emb[i] = float32(means[i%3] / math.Sqrt(float64(i/3+1)))
	}
	return emb, time.Millisecond, nil
}

func (e *MockEmbedder) Dimensions() int {
	return e.Dim
}

func (e *MockEmbedder) Close() error {
	return nil
}
