package matcher

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxnType is the carrier-reported transaction type of a statement line.
type TxnType string

const (
	TxnNew           TxnType = "new"
	TxnRenewal       TxnType = "renewal"
	TxnEndorsement   TxnType = "endorsement"
	TxnCancellation  TxnType = "cancellation"
	TxnReinstatement TxnType = "reinstatement"
	TxnClawback      TxnType = "clawback"
	TxnOverride      TxnType = "override"
)

// StatementLine is one carrier-reported commission transaction.
type StatementLine struct {
	LineID          string
	StatementID     string
	PolicyNumber    string
	InsuredName     string
	CarrierName     string
	EffectiveDate   time.Time
	TxnDate         time.Time
	WrittenPremium  decimal.Decimal
	GrossCommission decimal.Decimal // negative for clawbacks
	TxnType         TxnType
}

// CashTransaction is one bank-feed entry.
type CashTransaction struct {
	BankTxnID    string
	PostedDate   time.Time
	Amount       decimal.Decimal
	Counterparty string
	Memo         string
	Reference    string
}

// Status is the verdict for a statement line within a run.
type Status string

const (
	StatusAutoMatched Status = "auto_matched"
	StatusNeedsReview Status = "needs_review"
	StatusUnmatched   Status = "unmatched"
	StatusResolved    Status = "resolved"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAutoMatched, StatusNeedsReview, StatusUnmatched, StatusResolved:
		return true
	}
	return false
}

// Matched reports whether the status counts as reconciled.
func (s Status) Matched() bool {
	return s == StatusAutoMatched || s == StatusResolved
}

// Result is the verdict for one statement line.
type Result struct {
	LineID       string  `json:"line_id"`
	PolicyNumber string  `json:"policy_number"` // after override
	Confidence   float64 `json:"confidence"`
	Status       Status  `json:"status"`
	Reasons      Reasons `json:"reason"`

	// MatchedBankTxnID is the claimed transaction for auto_matched lines and
	// the suggestion for needs_review lines. Empty when there is none.
	MatchedBankTxnID string `json:"matched_bank_txn_id,omitempty"`
}

// Totals summarizes one matcher invocation.
type Totals struct {
	StatementRows int `json:"statement_rows"`
	BankRows      int `json:"bank_rows"`
	AutoMatched   int `json:"auto_matched"`
	NeedsReview   int `json:"needs_review"`
	Unmatched     int `json:"unmatched"`
}

// Outcome is the output of Matcher.Run.
type Outcome struct {
	Totals  Totals   `json:"totals"`
	Results []Result `json:"results"`
}

// Sample returns at most n leading results.
func (o *Outcome) Sample(n int) []Result {
	if n >= len(o.Results) {
		return o.Results
	}
	return o.Results[:n]
}

// Config holds matcher thresholds.
type Config struct {
	AutoMatchThreshold float64 // Default: 0.90
	ReviewThreshold    float64 // Default: 0.60
}

// DefaultConfig returns the standard classification thresholds.
func DefaultConfig() Config {
	return Config{
		AutoMatchThreshold: 0.90,
		ReviewThreshold:    0.60,
	}
}
