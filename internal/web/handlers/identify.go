package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/facegate/facegate/internal/identify"
	"github.com/facegate/facegate/internal/model"
)

// Recognizer is the pipeline surface the HTTP handlers depend on.
// *identify.Pipeline satisfies it.
type Recognizer interface {
	Identify(ctx context.Context, imageBytes []byte, tenantID string) (*identify.Outcome, error)
	Enroll(ctx context.Context, imageBytes []byte, tenantID, identity string) (*identify.EnrollReceipt, error)
	ModelStatus() model.Status
}

// IdentifyHandler handles face identification requests.
type IdentifyHandler struct {
	pipeline Recognizer
	log      *zap.Logger
}

// NewIdentifyHandler creates a new identify handler.
func NewIdentifyHandler(pipeline Recognizer, log *zap.Logger) *IdentifyHandler {
	return &IdentifyHandler{pipeline: pipeline, log: log}
}

// Identify accepts a multipart image upload and returns per-face
// identification results for the given tenant.
func (h *IdentifyHandler) Identify(w http.ResponseWriter, r *http.Request) {
	data, tenantID, errMsg := readImageUpload(r)
	if errMsg != "" {
		respondError(w, http.StatusBadRequest, errMsg)
		return
	}

	outcome, err := h.pipeline.Identify(r.Context(), data, tenantID)
	if err != nil {
		h.log.Warn("identification failed",
			zap.String("tenant", sanitizeForLog(tenantID)), zap.Error(err))
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, outcome)
}
