package storage

import (
	"github.com/eshaffer321/commission-recon/internal/domain/compare"
	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
)

// ExceptionStatus is the lifecycle state of an exception.
type ExceptionStatus string

const (
	ExceptionOpen     ExceptionStatus = "open"
	ExceptionResolved ExceptionStatus = "resolved"
)

// Valid reports whether s is open or resolved.
func (s ExceptionStatus) Valid() bool {
	return s == ExceptionOpen || s == ExceptionResolved
}

// SaveCounts is what SaveRun reports back for the stored run.
type SaveCounts struct {
	AutoMatched int `json:"auto_matched"`
	NeedsReview int `json:"needs_review"`
	Unmatched   int `json:"unmatched"`
}

// RunSummary aggregates the results of one run.
type RunSummary struct {
	RunID       string `json:"run_id"`
	CreatedAt   string `json:"created_at"`
	AutoMatched int    `json:"auto_matched"`
	NeedsReview int    `json:"needs_review"`
	Unmatched   int    `json:"unmatched"`
	Resolved    int    `json:"resolved"`
	Total       int    `json:"total"`
}

// ResultRecord is a stored MatchResult row.
type ResultRecord struct {
	RunID            string         `json:"run_id"`
	LineID           string         `json:"line_id"`
	PolicyNumber     string         `json:"policy_number"`
	MatchedBankTxnID *string        `json:"matched_bank_txn_id"`
	Confidence       float64        `json:"confidence"`
	Status           matcher.Status `json:"status"`
	Reason           string         `json:"reason"`
}

// Reasons parses the stored reason trail.
func (r *ResultRecord) Reasons() matcher.Reasons {
	return matcher.ParseReasons(r.Reason)
}

// Verdict converts the row for the run comparator.
func (r *ResultRecord) Verdict() compare.Verdict {
	v := compare.Verdict{
		LineID:     r.LineID,
		Status:     r.Status,
		Confidence: r.Confidence,
		Reason:     r.Reason,
	}
	if r.MatchedBankTxnID != nil {
		v.BankTxnID = *r.MatchedBankTxnID
	}
	return v
}

// ResultList is a page of results scoped to one run. RunID is empty when no
// run exists yet.
type ResultList struct {
	RunID   string         `json:"run_id"`
	Results []ResultRecord `json:"results"`
}

// ResultFilter narrows ListResults.
type ResultFilter struct {
	Status matcher.Status // empty = all
	Limit  int            // <= 0 = no limit
}

// ExceptionRecord is a stored exception joined with its result.
type ExceptionRecord struct {
	RunID              string          `json:"run_id"`
	LineID             string          `json:"line_id"`
	Reason             string          `json:"reason"`
	SuggestedBankTxnID *string         `json:"suggested_bank_txn_id"`
	Status             ExceptionStatus `json:"status"`
	ResolutionAction   *string         `json:"resolution_action"`
	ResolvedBankTxnID  *string         `json:"resolved_bank_txn_id"`
	ResolutionNote     *string         `json:"resolution_note"`
	UpdatedAt          *string         `json:"updated_at"`

	// Joined from match_results
	PolicyNumber string         `json:"policy_number"`
	Confidence   float64        `json:"confidence"`
	ResultStatus matcher.Status `json:"result_status"`
}

// ExceptionList is a page of exceptions from the latest run.
type ExceptionList struct {
	RunID      string            `json:"run_id"`
	Exceptions []ExceptionRecord `json:"exceptions"`
}

// ExceptionFilter narrows ListExceptions.
type ExceptionFilter struct {
	Status ExceptionStatus // empty = all
	Limit  int             // <= 0 = no limit
}

// ResolveParams closes an open exception in the latest run.
type ResolveParams struct {
	RunID     string // empty = latest; otherwise must be the latest run
	LineID    string
	Action    string
	BankTxnID *string // nil keeps the current suggestion on the result
	Note      *string
}

// LineRecord is everything stored about one line in the latest run.
type LineRecord struct {
	RunID     string           `json:"run_id"`
	Result    ResultRecord     `json:"result"`
	Exception *ExceptionRecord `json:"exception,omitempty"`
}

// AuditEvent records a state change for the audit trail.
type AuditEvent struct {
	ID         int64   `json:"id"`
	EventType  string  `json:"event_type"`
	EntityType string  `json:"entity_type"`
	EntityID   string  `json:"entity_id"`
	Action     string  `json:"action"`
	Actor      string  `json:"actor"`
	OldValue   *string `json:"old_value"`
	NewValue   *string `json:"new_value"`
	Detail     *string `json:"detail"`
	CreatedAt  string  `json:"created_at"`
}

// AuditFilter narrows ListAuditEvents.
type AuditFilter struct {
	EntityType string // empty = all
	EntityID   string // empty = all
	Limit      int    // <= 0 = no limit
}
