// Package compare diffs the line verdicts of two matching runs so analysts can
// see what a rule or data change did: which lines improved, which regressed,
// and how confidence moved.
package compare

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
)

// confidenceEpsilon is the smallest confidence move reported as a change.
const confidenceEpsilon = 0.001

// Direction classifies a change.
type Direction string

const (
	Improved  Direction = "improved"
	Regressed Direction = "regressed"
	Neutral   Direction = "neutral"
)

// Verdict is one line's stored result in a run.
type Verdict struct {
	LineID     string
	Status     matcher.Status
	Confidence float64
	Reason     string
	BankTxnID  string
}

// Change describes how one line moved between runs. Old* fields are nil for
// lines that only exist in the newer run.
type Change struct {
	LineID          string          `json:"line_id"`
	New             bool            `json:"new"`
	Direction       Direction       `json:"direction"`
	OldStatus       *matcher.Status `json:"old_status"`
	NewStatus       matcher.Status  `json:"new_status"`
	OldConfidence   *float64        `json:"old_confidence"`
	NewConfidence   float64         `json:"new_confidence"`
	ConfidenceDelta *float64        `json:"confidence_delta"`
	OldReason       *string         `json:"old_reason"`
	NewReason       string          `json:"new_reason"`
	OldBankTxnID    string          `json:"old_bank_txn_id,omitempty"`
	NewBankTxnID    string          `json:"new_bank_txn_id,omitempty"`
	Explanation     string          `json:"explanation"`
}

// TransitionCount counts one "old → new" status pair.
type TransitionCount struct {
	Transition string `json:"transition"`
	Count      int    `json:"count"`
}

// Diff is the result of comparing two verdict sets.
type Diff struct {
	Changes            []Change          `json:"changes"`
	TotalChanges       int               `json:"total_changes"`
	Improved           int               `json:"improved"`
	Regressed          int               `json:"regressed"`
	AvgConfidenceDelta float64           `json:"avg_confidence_delta"`
	Transitions        []TransitionCount `json:"status_transitions"`
}

// Transition formats a status pair.
func Transition(from, to matcher.Status) string {
	return fmt.Sprintf("%s → %s", from, to)
}

// Classify decides whether moving from one status to another is an
// improvement, a regression or neither.
func Classify(from, to matcher.Status) Direction {
	open := func(s matcher.Status) bool {
		return s == matcher.StatusNeedsReview || s == matcher.StatusUnmatched
	}
	switch {
	case open(from) && to.Matched():
		return Improved
	case from.Matched() && open(to):
		return Regressed
	default:
		return Neutral
	}
}

// Compare diffs older against newer. Lines only present in older are ignored.
// Changes are ordered by line id.
func Compare(older, newer []Verdict) Diff {
	byLineA := index(older)
	byLineB := index(newer)

	lineIDs := make([]string, 0, len(byLineB))
	for id := range byLineB {
		lineIDs = append(lineIDs, id)
	}
	sort.Strings(lineIDs)

	diff := Diff{Changes: []Change{}}
	transitions := make(map[string]int)
	var deltaSum float64
	var deltaCount int

	for _, id := range lineIDs {
		b := byLineB[id]
		a, inBoth := byLineA[id]

		if !inBoth {
			diff.Changes = append(diff.Changes, Change{
				LineID:        id,
				New:           true,
				Direction:     Neutral,
				NewStatus:     b.Status,
				NewConfidence: b.Confidence,
				NewReason:     b.Reason,
				NewBankTxnID:  b.BankTxnID,
				Explanation:   fmt.Sprintf("New line in run B: %s", b.Status),
			})
			continue
		}

		delta := b.Confidence - a.Confidence
		if a.Status == b.Status && math.Abs(delta) <= confidenceEpsilon {
			continue
		}

		transitions[Transition(a.Status, b.Status)]++
		deltaSum += delta
		deltaCount++

		oldStatus, oldConfidence, oldReason := a.Status, a.Confidence, a.Reason
		rounded := round(delta, 4)
		change := Change{
			LineID:          id,
			Direction:       Classify(a.Status, b.Status),
			OldStatus:       &oldStatus,
			NewStatus:       b.Status,
			OldConfidence:   &oldConfidence,
			NewConfidence:   b.Confidence,
			ConfidenceDelta: &rounded,
			OldReason:       &oldReason,
			NewReason:       b.Reason,
			OldBankTxnID:    a.BankTxnID,
			NewBankTxnID:    b.BankTxnID,
			Explanation:     explain(a, b, delta),
		}
		switch change.Direction {
		case Improved:
			diff.Improved++
		case Regressed:
			diff.Regressed++
		}
		diff.Changes = append(diff.Changes, change)
	}

	diff.TotalChanges = len(diff.Changes)
	if deltaCount > 0 {
		diff.AvgConfidenceDelta = round(deltaSum/float64(deltaCount), 4)
	}
	diff.Transitions = sortTransitions(transitions)
	return diff
}

// Truncate keeps at most n changes; totals are unaffected.
func (d *Diff) Truncate(n int) {
	if n >= 0 && len(d.Changes) > n {
		d.Changes = d.Changes[:n]
	}
}

func index(verdicts []Verdict) map[string]Verdict {
	m := make(map[string]Verdict, len(verdicts))
	for _, v := range verdicts {
		m[v.LineID] = v
	}
	return m
}

func explain(a, b Verdict, delta float64) string {
	var parts []string
	if a.Status != b.Status {
		parts = append(parts, fmt.Sprintf("Status: %s → %s", a.Status, b.Status))
	}
	if a.Reason != b.Reason {
		parts = append(parts, fmt.Sprintf("Reason: %s → %s", a.Reason, b.Reason))
	}
	if math.Abs(delta) > confidenceEpsilon {
		parts = append(parts, fmt.Sprintf("Confidence: %.1f%% → %.1f%%", a.Confidence*100, b.Confidence*100))
	}
	if a.BankTxnID != b.BankTxnID {
		parts = append(parts, fmt.Sprintf("Bank txn: %s → %s", orNone(a.BankTxnID), orNone(b.BankTxnID)))
	}
	return strings.Join(parts, "; ")
}

func sortTransitions(counts map[string]int) []TransitionCount {
	out := make([]TransitionCount, 0, len(counts))
	for transition, count := range counts {
		out = append(out, TransitionCount{Transition: transition, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Transition < out[j].Transition
	})
	return out
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
