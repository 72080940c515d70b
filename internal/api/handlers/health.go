package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/eshaffer321/commission-recon/internal/api/dto"
)

// SchemaReporter is implemented by stores that can report their migration
// version. The health check uses it to prove the database answers.
type SchemaReporter interface {
	SchemaVersion(ctx context.Context) (int64, error)
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	schema SchemaReporter
}

// NewHealthHandler creates a new health handler. schema may be nil.
func NewHealthHandler(schema SchemaReporter) *HealthHandler {
	return &HealthHandler{schema: schema}
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := dto.NewHealthResponse()
	status := http.StatusOK

	if h.schema != nil {
		version, err := h.schema.SchemaVersion(r.Context())
		if err != nil {
			response.Status = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			response.SchemaVersion = version
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
