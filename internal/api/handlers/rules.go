package handlers

import (
	"log/slog"
	"net/http"

	"github.com/eshaffer321/commission-recon/internal/api/dto"
	"github.com/eshaffer321/commission-recon/internal/application/service"
)

// RulesHandler manages policy number override rules.
type RulesHandler struct {
	*Base
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(svc *service.ReconService, logger *slog.Logger) *RulesHandler {
	return &RulesHandler{
		Base: NewBase(svc, logger),
	}
}

// List handles GET /api/rules/policy.
func (h *RulesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := ParseIntParam(r, "limit", service.DefaultRuleLimit)

	rules, err := h.svc.ListPolicyRules(r.Context(), limit)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.PolicyRuleListResponse{
		Rules: rules,
		Count: len(rules),
	})
}

// Upsert handles POST /api/rules/policy.
func (h *RulesHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req dto.UpsertPolicyRuleRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}

	rule, err := h.svc.UpsertPolicyRule(r.Context(), req.SourcePolicyNumber, req.TargetPolicyNumber, req.Note)
	if err != nil {
		h.WriteServiceError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, dto.PolicyRuleResponse{OK: true, Rule: rule})
}
