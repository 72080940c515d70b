package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/eshaffer321/commission-recon/internal/apperr"
	"github.com/eshaffer321/commission-recon/internal/application/service"
	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
	"github.com/eshaffer321/commission-recon/internal/domain/policyrules"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

// describe renders an error for the terminal. Classified failures show
// their message only.
func describe(err error) string {
	if msg := apperr.MessageOf(err); msg != "" {
		return msg
	}
	return err.Error()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(out io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(out, format, args...)
}

func newTable(out io.Writer, header ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))
	rules := make([]string, len(header))
	for i, h := range header {
		rules[i] = strings.Repeat("-", len(h))
	}
	_, _ = fmt.Fprintln(w, strings.Join(rules, "\t"))
	return w
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func formatTotals(out io.Writer, t matcher.Totals) {
	printf(out, "Statement rows: %d | Bank rows: %d\n", t.StatementRows, t.BankRows)
	printf(out, "Auto-matched: %d | Needs review: %d | Unmatched: %d\n\n", t.AutoMatched, t.NeedsReview, t.Unmatched)
}

func formatSample(out io.Writer, results []matcher.Result) {
	w := newTable(out, "LINE", "POLICY", "STATUS", "CONFIDENCE", "BANK TXN", "REASON")
	for _, r := range results {
		txn := r.MatchedBankTxnID
		if txn == "" {
			txn = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.LineID, r.PolicyNumber, r.Status, pct(r.Confidence), txn, r.Reasons.String())
	}
	_ = w.Flush()
}

func formatRunCreated(out io.Writer, c *service.RunCreated) {
	printf(out, "Run %s saved.\n", c.RunID)
	formatTotals(out, c.Totals)
}

func formatRuns(out io.Writer, runs []storage.RunSummary) {
	w := newTable(out, "RUN", "CREATED", "AUTO", "REVIEW", "UNMATCHED", "RESOLVED", "TOTAL")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.RunID, r.CreatedAt, r.AutoMatched, r.NeedsReview, r.Unmatched, r.Resolved, r.Total)
	}
	_ = w.Flush()
}

func formatComparison(out io.Writer, c *service.Comparison) {
	if !c.Available {
		printf(out, "%s\n", c.Message)
		return
	}
	printf(out, "Comparing %s -> %s\n", c.RunA.RunID, c.RunB.RunID)
	printf(out, "Changes: %d | Improved: %d | Regressed: %d | Avg confidence delta: %+.4f\n",
		c.TotalChanges, c.Improved, c.Regressed, c.AvgConfidenceDelta)
	for _, t := range c.Transitions {
		printf(out, "  %s: %d\n", t.Transition, t.Count)
	}
	printf(out, "\n")

	w := newTable(out, "LINE", "DIRECTION", "OLD", "NEW", "EXPLANATION")
	for _, ch := range c.Changes {
		old := "-"
		if ch.OldStatus != nil {
			old = string(*ch.OldStatus)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ch.LineID, ch.Direction, old, ch.NewStatus, truncate(ch.Explanation, 80))
	}
	_ = w.Flush()
}

func formatResults(out io.Writer, page *service.ResultPage) {
	if page.RunID == "" {
		printf(out, "No match run found. Run 'recon match run' first.\n")
		return
	}
	printf(out, "Run %s\n\n", page.RunID)
	w := newTable(out, "LINE", "CARRIER", "TYPE", "COMMISSION", "STATUS", "CONFIDENCE", "BANK TXN")
	for _, r := range page.Results {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.LineID, r.CarrierName, r.TxnType, r.GrossCommission, r.Status, pct(r.Confidence), orDash(r.MatchedBankTxnID))
	}
	_ = w.Flush()
}

func formatExceptions(out io.Writer, list *storage.ExceptionList) {
	if list.RunID == "" {
		printf(out, "No match run found. Run 'recon match run' first.\n")
		return
	}
	w := newTable(out, "LINE", "POLICY", "CONFIDENCE", "SUGGESTED", "STATUS", "ACTION", "REASON")
	for _, e := range list.Exceptions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.LineID, e.PolicyNumber, pct(e.Confidence), orDash(e.SuggestedBankTxnID),
			e.Status, orDash(e.ResolutionAction), e.Reason)
	}
	_ = w.Flush()
}

func formatResolved(out io.Writer, e *storage.ExceptionRecord) {
	printf(out, "Resolved %s in %s (action: %s, bank txn: %s)\n",
		e.LineID, e.RunID, orDash(e.ResolutionAction), orDash(e.ResolvedBankTxnID))
}

func formatSweep(out io.Writer, r *service.SweepResult) {
	printf(out, "%s\n", r.Message)
	for _, id := range r.Resolved {
		printf(out, "  %s\n", id)
	}
}

func formatRules(out io.Writer, rules []policyrules.Rule) {
	w := newTable(out, "SOURCE", "TARGET", "UPDATED", "NOTE")
	for _, r := range rules {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.SourcePolicyNumber, r.TargetPolicyNumber, r.UpdatedAt, truncate(orDash(r.Note), 60))
	}
	_ = w.Flush()
}

func formatLineDetail(out io.Writer, d *service.LineDetail) {
	s := d.Statement
	printf(out, "Line %s (statement %s)\n", s.LineID, s.StatementID)
	printf(out, "  Policy:     %s\n", s.PolicyNumber)
	printf(out, "  Insured:    %s\n", s.InsuredName)
	printf(out, "  Carrier:    %s\n", s.CarrierName)
	printf(out, "  Txn:        %s on %s\n", s.TxnType, s.TxnDate)
	printf(out, "  Commission: %s\n", s.GrossCommission)

	if d.MatchResult == nil {
		printf(out, "\nNot part of the latest run.\n")
	} else {
		r := d.MatchResult
		printf(out, "\nRun %s: %s at %s, bank txn %s\n", d.RunID, r.Status, pct(r.Confidence), orDash(r.MatchedBankTxnID))
		for _, f := range d.ScoreFactors {
			printf(out, "  %-18s +%.2f\n", f.Label, f.Weight)
		}
	}
	if d.BankTransaction != nil {
		b := d.BankTransaction
		printf(out, "\nBank %s: %s on %s from %s (%s)\n", b.BankTxnID, b.Amount, b.PostedDate, b.Counterparty, b.Memo)
	}
	if d.Exception != nil {
		printf(out, "\nException: %s", d.Exception.Status)
		if d.Exception.ResolutionAction != nil {
			printf(out, " via %s", *d.Exception.ResolutionAction)
		}
		printf(out, "\n")
	}
	if len(d.AuditEvents) > 0 {
		printf(out, "\n")
		formatAudit(out, d.AuditEvents)
	}
}

func formatAudit(out io.Writer, events []storage.AuditEvent) {
	w := newTable(out, "ID", "WHEN", "EVENT", "ENTITY", "ACTION", "ACTOR", "DETAIL")
	for _, e := range events {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s:%s\t%s\t%s\t%s\n",
			e.ID, e.CreatedAt, e.EventType, e.EntityType, e.EntityID, e.Action, e.Actor, truncate(orDash(e.Detail), 60))
	}
	_ = w.Flush()
}
