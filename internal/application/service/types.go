package service

import (
	"github.com/eshaffer321/commission-recon/internal/domain/compare"
	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

// Defaults applied when a caller passes a non-positive limit.
const (
	DefaultRunLimit       = 50
	DefaultResultLimit    = 500
	DefaultExceptionLimit = 100
	DefaultRuleLimit      = 200
	DefaultAuditLimit     = 200
	DefaultSweepCount     = 3

	previewSampleSize = 20
	maxReportedChange = 100
	lineAuditLimit    = 50
)

// Actors recorded on audit events.
const (
	ActorAnalyst = "analyst"
	ActorSystem  = "system"
)

// ActionAutoResolved is the resolution action used by background sweeps.
const ActionAutoResolved = "auto_resolved"

// Preview is a matching pass that was not persisted.
type Preview struct {
	Totals matcher.Totals   `json:"totals"`
	Sample []matcher.Result `json:"sample"`
}

// RunCreated reports a persisted matching run.
type RunCreated struct {
	RunID        string             `json:"run_id"`
	Totals       matcher.Totals     `json:"totals"`
	StoredCounts storage.SaveCounts `json:"stored_counts"`
}

// ResultRow is a stored result enriched with its statement line.
type ResultRow struct {
	storage.ResultRecord
	StatementID     string          `json:"statement_id"`
	InsuredName     string          `json:"insured_name"`
	CarrierName     string          `json:"carrier_name"`
	TxnType         matcher.TxnType `json:"txn_type"`
	GrossCommission string          `json:"gross_commission"`
}

// ResultPage is a page of latest-run results.
type ResultPage struct {
	RunID   string      `json:"run_id"`
	Results []ResultRow `json:"results"`
}

// ResolveRequest is a manual resolution.
type ResolveRequest struct {
	RunID     string // optional; pins the resolution to this run
	LineID    string
	Action    string
	BankTxnID *string
	Note      *string
}

// SweepResult reports a background reconciliation sweep.
type SweepResult struct {
	RunID    string   `json:"run_id"`
	Resolved []string `json:"resolved"`
	Message  string   `json:"message"`
}

// Comparison is the report for two runs. When fewer than two runs exist,
// Available is false and only Message is set.
type Comparison struct {
	Available bool                `json:"available"`
	Message   string              `json:"message,omitempty"`
	RunA      *storage.RunSummary `json:"run_a,omitempty"`
	RunB      *storage.RunSummary `json:"run_b,omitempty"`
	*compare.Diff
}

// ScoreFactor is one contributing factor of a stored verdict.
type ScoreFactor struct {
	Key    matcher.Tag `json:"key"`
	Label  string      `json:"label"`
	Weight float64     `json:"weight"`
}

// StatementView is the display form of a statement line.
type StatementView struct {
	LineID          string          `json:"line_id"`
	StatementID     string          `json:"statement_id"`
	PolicyNumber    string          `json:"policy_number"`
	InsuredName     string          `json:"insured_name"`
	CarrierName     string          `json:"carrier_name"`
	EffectiveDate   string          `json:"effective_date"`
	TxnDate         string          `json:"txn_date"`
	WrittenPremium  string          `json:"written_premium"`
	GrossCommission string          `json:"gross_commission"`
	TxnType         matcher.TxnType `json:"txn_type"`
}

// BankTransactionView is the display form of a cash transaction.
type BankTransactionView struct {
	BankTxnID    string `json:"bank_txn_id"`
	PostedDate   string `json:"posted_date"`
	Amount       string `json:"amount"`
	Counterparty string `json:"counterparty"`
	Memo         string `json:"memo"`
	Reference    string `json:"reference"`
}

// LineDetail is everything known about one statement line.
type LineDetail struct {
	Statement       StatementView            `json:"statement"`
	RunID           string                   `json:"run_id,omitempty"`
	MatchResult     *storage.ResultRecord    `json:"match_result"`
	Exception       *storage.ExceptionRecord `json:"exception"`
	BankTransaction *BankTransactionView     `json:"bank_transaction"`
	ScoreFactors    []ScoreFactor            `json:"score_factors"`
	AuditEvents     []storage.AuditEvent     `json:"audit_events"`
}
