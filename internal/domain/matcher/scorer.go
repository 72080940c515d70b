package matcher

import (
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	nearDateDays      = 3
	softDateDays      = 30
	nameHintThreshold = 0.6
	maxPoints         = 100
)

var (
	exactAmountTolerance = decimal.RequireFromString("0.01")
	nearAmountTolerance  = decimal.RequireFromString("25.00")
)

// Score rates how well txn pays line. policyNumber is the line's policy number
// after overrides. Factors are returned in evaluation order and the score is
// capped at 1.0.
//
// Both dates must be set; the matcher checks this before scoring.
func Score(line StatementLine, txn CashTransaction, policyNumber string) (float64, Reasons) {
	points := 0
	var factors Reasons
	add := func(t Tag) {
		points += t.points()
		factors = append(factors, t)
	}

	if policyNumber != "" && strings.Contains(txn.Memo, policyNumber) {
		add(TagPolicyInMemo)
	}

	diff := line.GrossCommission.Sub(txn.Amount).Abs()
	switch {
	case diff.LessThanOrEqual(exactAmountTolerance):
		add(TagExactAmount)
	case diff.LessThanOrEqual(nearAmountTolerance):
		add(TagNearAmount)
	}

	gap := DayGap(line.TxnDate, txn.PostedDate)
	switch {
	case gap <= nearDateDays:
		add(TagNearDate)
	case gap <= softDateDays:
		add(TagSoftDate)
	}

	if fold(line.CarrierName) == fold(txn.Counterparty) {
		add(TagCarrierMatch)
	}

	if NameSimilarity(line.InsuredName, txn.Memo) >= nameHintThreshold {
		add(TagNameHint)
	}

	if points > maxPoints {
		points = maxPoints
	}
	return float64(points) / 100, factors
}

// DayGap returns the absolute number of calendar days between a and b.
func DayGap(a, b time.Time) int {
	days := civilDay(a) - civilDay(b)
	if days < 0 {
		return int(-days)
	}
	return int(days)
}

func civilDay(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// NameSimilarity is the matching-blocks ratio 2*M/T of the insured name
// against the memo. Commas are dropped from the name; both sides are lowered
// and trimmed. Empty input scores 0.
func NameSimilarity(name, memo string) float64 {
	a := strings.TrimSpace(fold(strings.ReplaceAll(name, ",", "")))
	b := strings.TrimSpace(fold(memo))
	if a == "" || b == "" {
		return 0
	}
	return difflib.NewMatcher(splitRunes(a), splitRunes(b)).Ratio()
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func fold(s string) string {
	return cases.Lower(language.Und).String(s)
}
