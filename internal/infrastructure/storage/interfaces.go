package storage

import (
	"context"

	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
	"github.com/eshaffer321/commission-recon/internal/domain/policyrules"
)

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, in-memory mock)
// and makes testing the service and API layers straightforward.
type Repository interface {
	RunRepository
	ExceptionRepository
	PolicyRuleRepository
	AuditRepository
	Close() error
}

// RunRepository persists matching runs and their per-line results.
type RunRepository interface {
	// SaveRun stores the run, its results and the open exceptions for
	// needs_review lines in one transaction. Reusing a run id is InvalidState.
	SaveRun(ctx context.Context, runID string, results []matcher.Result) (*SaveCounts, error)

	// LatestRunID returns the most recent run id, or "" when no run exists.
	LatestRunID(ctx context.Context) (string, error)

	// GetRun returns the summary of a run, or nil when it does not exist.
	GetRun(ctx context.Context, runID string) (*RunSummary, error)

	// ListRuns returns run summaries, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)

	// ListResults returns results of the latest run ordered by confidence
	// descending then line id.
	ListResults(ctx context.Context, filter ResultFilter) (*ResultList, error)

	// GetRunResults returns every result of a run ordered by line id.
	GetRunResults(ctx context.Context, runID string) ([]ResultRecord, error)

	// GetLine returns the latest run's record for a line, or nil when the
	// line is not part of it.
	GetLine(ctx context.Context, lineID string) (*LineRecord, error)
}

// ExceptionRepository handles the exception queue of the latest run.
type ExceptionRepository interface {
	// ListExceptions returns exceptions of the latest run ordered by
	// confidence descending then line id.
	ListExceptions(ctx context.Context, filter ExceptionFilter) (*ExceptionList, error)

	// ResolveException moves an open exception of the latest run to resolved
	// and marks its result resolved. NotFound when no such open exception exists.
	ResolveException(ctx context.Context, params ResolveParams) (*ExceptionRecord, error)
}

// PolicyRuleRepository stores policy number overrides.
type PolicyRuleRepository interface {
	// UpsertPolicyRule inserts or replaces the rule for its source policy number.
	UpsertPolicyRule(ctx context.Context, rule policyrules.Rule) (*policyrules.Rule, error)

	// ListPolicyRules returns rules, most recently updated first.
	ListPolicyRules(ctx context.Context, limit int) ([]policyrules.Rule, error)
}

// AuditRepository records the audit trail.
type AuditRepository interface {
	// LogAuditEvent stores the event and fills in its ID and CreatedAt.
	LogAuditEvent(ctx context.Context, event *AuditEvent) error

	// ListAuditEvents returns events newest first.
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}
