// Package handlers contains the HTTP handlers for the identification
// API. Handlers translate transport concerns (multipart parsing, status
// codes) and delegate all domain work to the identify pipeline.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/facegate/facegate/internal/identify"
	"github.com/facegate/facegate/internal/model"
	"github.com/facegate/facegate/internal/vecstore"
)

// maxUploadSize caps request image payloads at 20 MiB.
const maxUploadSize = 20 << 20

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps pipeline and store errors to HTTP status codes.
// Client mistakes (bad image, wrong face count, unknown tenant, duplicate
// reference) map to 400; a corrupted index pair maps to 409 so callers
// know a reindex is required; uninitialized models map to 503.
func respondDomainError(w http.ResponseWriter, err error) {
	var fce *identify.FaceCountError
	switch {
	case errors.As(err, &fce):
		respondError(w, http.StatusBadRequest, fce.Error())
	case errors.Is(err, identify.ErrBadImage):
		respondError(w, http.StatusBadRequest, "could not decode image")
	case errors.Is(err, identify.ErrDuplicateReference):
		respondError(w, http.StatusBadRequest, "reference image already enrolled")
	case errors.Is(err, vecstore.ErrInvalidTenant):
		respondError(w, http.StatusBadRequest, "tenant_id must be a valid UUID")
	case errors.Is(err, vecstore.ErrNeedsReindex):
		respondError(w, http.StatusConflict, "tenant index is corrupted, reindex required")
	case errors.Is(err, model.ErrNotInitialized):
		respondError(w, http.StatusServiceUnavailable, "models are not initialized")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// readImageUpload extracts the image payload and tenant id from a
// multipart request. The image comes from the "image" form file and the
// tenant from the "tenant_id" form value.
func readImageUpload(r *http.Request) (data []byte, tenantID string, errMsg string) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, "", "failed to parse multipart form"
	}

	tenantID = r.FormValue("tenant_id")
	if tenantID == "" {
		return nil, "", "tenant_id is required"
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, "", "image file is required"
	}
	defer file.Close()

	data, err = io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		return nil, "", "failed to read image file"
	}
	return data, tenantID, ""
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
