package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// StatusHandler reports model readiness.
type StatusHandler struct {
	pipeline Recognizer
	log      *zap.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(pipeline Recognizer, log *zap.Logger) *StatusHandler {
	return &StatusHandler{pipeline: pipeline, log: log}
}

// Get returns the current model status. Responds 200 whether or not the
// models are loaded; callers inspect the "ready" field.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.pipeline.ModelStatus())
}
