package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// EnrollHandler handles reference image enrollments.
type EnrollHandler struct {
	pipeline Recognizer
	log      *zap.Logger
}

// NewEnrollHandler creates a new enroll handler.
func NewEnrollHandler(pipeline Recognizer, log *zap.Logger) *EnrollHandler {
	return &EnrollHandler{pipeline: pipeline, log: log}
}

// Enroll accepts a multipart image with a "label" form value and adds the
// single face it contains to the tenant's index. Images with zero or
// multiple faces are rejected.
func (h *EnrollHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	data, tenantID, errMsg := readImageUpload(r)
	if errMsg != "" {
		respondError(w, http.StatusBadRequest, errMsg)
		return
	}

	label := r.FormValue("label")
	if label == "" {
		respondError(w, http.StatusBadRequest, "label is required")
		return
	}

	receipt, err := h.pipeline.Enroll(r.Context(), data, tenantID, label)
	if err != nil {
		h.log.Warn("enrollment failed",
			zap.String("tenant", sanitizeForLog(tenantID)),
			zap.String("label", sanitizeForLog(label)),
			zap.Error(err))
		respondDomainError(w, err)
		return
	}

	h.log.Info("enrolled reference image",
		zap.String("tenant", tenantID),
		zap.String("label", receipt.Label),
		zap.Int("total_vectors", receipt.TotalVectors))
	respondJSON(w, http.StatusCreated, receipt)
}
