package handlers

import (
	"log/slog"
	"net/http"

	"github.com/eshaffer321/commission-recon/internal/api/dto"
	"github.com/eshaffer321/commission-recon/internal/application/service"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

// ExceptionsHandler handles the exception queue.
type ExceptionsHandler struct {
	*Base
}

// NewExceptionsHandler creates a new exceptions handler.
func NewExceptionsHandler(svc *service.ReconService, logger *slog.Logger) *ExceptionsHandler {
	return &ExceptionsHandler{
		Base: NewBase(svc, logger),
	}
}

// List handles GET /api/exceptions?status=open|resolved&limit=.
func (h *ExceptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(storage.ExceptionOpen)
	}
	limit := ParseIntParam(r, "limit", service.DefaultExceptionLimit)

	list, err := h.svc.ListExceptions(r.Context(), status, limit)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.ExceptionListResponse{
		RunID:      list.RunID,
		Status:     status,
		Exceptions: list.Exceptions,
		Count:      len(list.Exceptions),
	})
}

// Resolve handles POST /api/exceptions/resolve.
func (h *ExceptionsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req dto.ResolveExceptionRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}

	rec, err := h.svc.ResolveException(r.Context(), service.ResolveRequest{
		LineID:    req.LineID,
		Action:    req.ResolutionAction,
		BankTxnID: req.ResolvedBankTxnID,
		Note:      req.ResolutionNote,
	})
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.ResolveExceptionResponse{OK: true, Exception: rec})
}

// Sweep handles POST /api/exceptions/sweep?count= - auto-resolves the
// highest-confidence open exceptions.
func (h *ExceptionsHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	count := ParseIntParam(r, "count", service.DefaultSweepCount)

	result, err := h.svc.Sweep(r.Context(), count)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}
