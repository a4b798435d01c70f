// Package identify implements the face identification pipeline: detection,
// preprocessing, embedding, tenant-scoped nearest-neighbor search, and the
// weighted voting classifier that turns neighbors into an identity
// decision.
package identify

import (
	"github.com/facegate/facegate/internal/imaging"
)

// Status classifies one face's identification outcome.
type Status string

const (
	// StatusOK means the vote ratio met the confidence threshold.
	StatusOK Status = "ok"
	// StatusUnconfident means a best label exists but its vote ratio is
	// below threshold. Callers must not grant access on it; the label is
	// surfaced for audit only.
	StatusUnconfident Status = "unconfident"
	// StatusNoMatch means the index returned no usable neighbors.
	StatusNoMatch Status = "no_match"
	// StatusError means this face failed during processing; the rest of
	// the batch is unaffected.
	StatusError Status = "error"
)

// FaceResult is the identification outcome for one detected face.
type FaceResult struct {
	Status      Status      `json:"status"`
	Label       string      `json:"label"`
	Confidence  float64     `json:"confidence"`
	Box         imaging.Box `json:"bounding_box"`
	DetectionMs float64     `json:"detection_ms"`
	EmbeddingMs float64     `json:"embedding_ms"`
	TotalMs     float64     `json:"total_ms"`
	Error       string      `json:"error,omitempty"`
}

// Outcome aggregates all per-face results for one image.
type Outcome struct {
	Message     string       `json:"message"`
	Faces       []FaceResult `json:"faces"`
	DetectionMs float64      `json:"detection_ms"`
	TotalMs     float64      `json:"total_ms"`
}

// EnrollReceipt reports a successful enrollment.
type EnrollReceipt struct {
	Label           string `json:"label"`
	TotalVectors    int    `json:"total_vectors"`
	ReferenceImages int    `json:"reference_images"`
	ImagePath       string `json:"image_path"`
}

const unknownLabel = "unknown"

// faceError builds the per-face result for a processing failure. The
// message is a fixed string so internal error details never reach the
// response body.
func faceError(box imaging.Box, msg string) FaceResult {
	return FaceResult{
		Status: StatusError,
		Label:  unknownLabel,
		Box:    box,
		Error:  msg,
	}
}
