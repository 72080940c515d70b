package handlers

import (
	"log/slog"
	"net/http"

	"github.com/eshaffer321/commission-recon/internal/api/dto"
	"github.com/eshaffer321/commission-recon/internal/application/service"
)

// RunsHandler handles match run HTTP requests.
type RunsHandler struct {
	*Base
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(svc *service.ReconService, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{
		Base: NewBase(svc, logger),
	}
}

// Preview handles GET /api/match/preview - runs matching without saving.
func (h *RunsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.svc.Preview(r.Context())
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, preview)
}

// Create handles POST /api/runs - runs matching and persists the run.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	created, err := h.svc.CreateRun(r.Context())
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, created)
}

// List handles GET /api/runs - returns run summaries, newest first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := ParseIntParam(r, "limit", service.DefaultRunLimit)

	runs, err := h.svc.ListRuns(r.Context(), limit)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.RunListResponse{
		Runs:  runs,
		Count: len(runs),
	})
}

// Compare handles GET /api/runs/compare?run_a=&run_b=. Without ids the two
// most recent runs are compared.
func (h *RunsHandler) Compare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cmp, err := h.svc.CompareRuns(r.Context(), q.Get("run_a"), q.Get("run_b"))
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, cmp)
}

// Results handles GET /api/results?status=&limit= for the latest run.
func (h *RunsHandler) Results(w http.ResponseWriter, r *http.Request) {
	limit := ParseIntParam(r, "limit", service.DefaultResultLimit)

	page, err := h.svc.ListResults(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, page)
}
