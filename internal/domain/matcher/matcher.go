// Package matcher reconciles carrier commission statement lines against bank
// cash transactions.
//
// Each line is scored against every cash transaction that has not yet been
// claimed, and the best candidate decides the verdict:
//   - score >= 0.90: auto_matched, the transaction is consumed
//   - score >= 0.60: needs_review, the transaction is only suggested
//   - otherwise:     unmatched
//
// Lines are processed in input order in a single greedy pass. An earlier
// line keeps its claim even if a later line would fit the transaction better.
//
// Example usage:
//
//	m := matcher.NewMatcher(matcher.DefaultConfig())
//	outcome, err := m.Run(lines, transactions, overrides)
package matcher

import (
	"math"

	"github.com/eshaffer321/commission-recon/internal/apperr"
)

// PolicyResolver maps a statement policy number to the one used for
// matching. ok is false when no override exists.
type PolicyResolver interface {
	Resolve(policyNumber string) (target string, ok bool)
}

// Matcher classifies statement lines against cash transactions.
type Matcher struct {
	config Config
}

// NewMatcher creates a new matcher with the given config
func NewMatcher(config Config) *Matcher {
	return &Matcher{
		config: config,
	}
}

// Run produces one result per statement line, in input order. It is pure:
// identical inputs and overrides yield identical results. overrides may be nil.
func (m *Matcher) Run(lines []StatementLine, transactions []CashTransaction, overrides PolicyResolver) (*Outcome, error) {
	if err := validate(lines, transactions); err != nil {
		return nil, err
	}

	consumed := make([]bool, len(transactions))
	outcome := &Outcome{
		Totals: Totals{
			StatementRows: len(lines),
			BankRows:      len(transactions),
		},
		Results: make([]Result, 0, len(lines)),
	}

	for _, line := range lines {
		policyNumber, overridden := line.PolicyNumber, false
		if overrides != nil {
			if target, ok := overrides.Resolve(line.PolicyNumber); ok {
				policyNumber, overridden = target, true
			}
		}

		bestIdx := -1
		bestScore := -1.0
		var bestReasons Reasons
		for idx, txn := range transactions {
			if consumed[idx] {
				continue
			}
			score, reasons := Score(line, txn, policyNumber)
			// Strictly greater: ties keep the earliest transaction.
			if score > bestScore {
				bestIdx, bestScore, bestReasons = idx, score, reasons
			}
		}

		result := Result{
			LineID:       line.LineID,
			PolicyNumber: policyNumber,
			Status:       StatusUnmatched,
			Confidence:   round3(math.Max(bestScore, 0)),
			Reasons:      bestReasons,
		}
		if bestIdx >= 0 {
			switch {
			case bestScore >= m.config.AutoMatchThreshold:
				result.Status = StatusAutoMatched
				result.MatchedBankTxnID = transactions[bestIdx].BankTxnID
				consumed[bestIdx] = true
			case bestScore >= m.config.ReviewThreshold:
				result.Status = StatusNeedsReview
				result.MatchedBankTxnID = transactions[bestIdx].BankTxnID
			}
		}
		if overridden {
			result.Reasons = result.Reasons.With(TagPolicyRuleOverride)
		}

		switch result.Status {
		case StatusAutoMatched:
			outcome.Totals.AutoMatched++
		case StatusNeedsReview:
			outcome.Totals.NeedsReview++
		default:
			outcome.Totals.Unmatched++
		}
		outcome.Results = append(outcome.Results, result)
	}

	return outcome, nil
}

// validate rejects rows the scorer cannot handle.
func validate(lines []StatementLine, transactions []CashTransaction) error {
	for i, line := range lines {
		if line.TxnDate.IsZero() {
			return apperr.InputMalformed("statement line %d (%s): missing txn_date", i, line.LineID)
		}
	}
	for i, txn := range transactions {
		if txn.PostedDate.IsZero() {
			return apperr.InputMalformed("cash transaction %d (%s): missing posted_date", i, txn.BankTxnID)
		}
	}
	return nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
