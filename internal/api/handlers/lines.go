package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eshaffer321/commission-recon/internal/api/dto"
	"github.com/eshaffer321/commission-recon/internal/application/service"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

// LinesHandler serves per-line drill-down and the audit trail.
type LinesHandler struct {
	*Base
}

// NewLinesHandler creates a new lines handler.
func NewLinesHandler(svc *service.ReconService, logger *slog.Logger) *LinesHandler {
	return &LinesHandler{
		Base: NewBase(svc, logger),
	}
}

// Get handles GET /api/lines/{lineID}.
func (h *LinesHandler) Get(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "lineID")
	if lineID == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("line ID is required"))
		return
	}

	detail, err := h.svc.LineDetail(r.Context(), lineID)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, detail)
}

// Audit handles GET /api/audit?entity_type=&entity_id=&limit=.
func (h *LinesHandler) Audit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := h.svc.ListAudit(r.Context(), storage.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Limit:      ParseIntParam(r, "limit", service.DefaultAuditLimit),
	})
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.AuditListResponse{
		Events: events,
		Count:  len(events),
	})
}
