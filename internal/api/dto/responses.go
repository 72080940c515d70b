package dto

import (
	"time"

	"github.com/eshaffer321/commission-recon/internal/domain/policyrules"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	SchemaVersion int64  `json:"schema_version,omitempty"`
}

// NewHealthResponse creates a healthy response stamped with the current time.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// RunListResponse is returned when listing match runs.
type RunListResponse struct {
	Runs  []storage.RunSummary `json:"runs"`
	Count int                  `json:"count"`
}

// ExceptionListResponse is returned when listing the exception queue.
type ExceptionListResponse struct {
	RunID      string                    `json:"run_id,omitempty"`
	Status     string                    `json:"status"`
	Exceptions []storage.ExceptionRecord `json:"exceptions"`
	Count      int                       `json:"count"`
}

// ResolveExceptionResponse is returned after a manual resolution.
type ResolveExceptionResponse struct {
	OK        bool                     `json:"ok"`
	Exception *storage.ExceptionRecord `json:"exception"`
}

// PolicyRuleListResponse is returned when listing policy rules.
type PolicyRuleListResponse struct {
	Rules []policyrules.Rule `json:"rules"`
	Count int                `json:"count"`
}

// PolicyRuleResponse is returned after an upsert.
type PolicyRuleResponse struct {
	OK   bool              `json:"ok"`
	Rule *policyrules.Rule `json:"rule"`
}

// AuditListResponse is returned when listing audit events.
type AuditListResponse struct {
	Events []storage.AuditEvent `json:"events"`
	Count  int                  `json:"count"`
}
