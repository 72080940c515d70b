package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/commission-recon/internal/apperr"
	"github.com/eshaffer321/commission-recon/internal/domain/compare"
	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/ingest"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

type staticSource struct {
	data *ingest.Dataset
	err  error
}

func (s *staticSource) Load(_ context.Context) (*ingest.Dataset, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func day(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

// sampleDataset yields one auto match (L-1), one review (L-2 at 0.8 against
// TX-2) and one unmatched line (L-3 at 0.3) whose typo POL-3X9 becomes a
// review once mapped to POL-309.
func sampleDataset() *ingest.Dataset {
	return &ingest.Dataset{
		Lines: []matcher.StatementLine{
			{
				LineID: "L-1", StatementID: "S-1", PolicyNumber: "POL-100",
				InsuredName: "Alice Smith", CarrierName: "Acme Mutual",
				EffectiveDate: day(1), TxnDate: day(9),
				WrittenPremium: decimal.RequireFromString("1200"), GrossCommission: decimal.RequireFromString("120.00"),
				TxnType: matcher.TxnNew,
			},
			{
				LineID: "L-2", StatementID: "S-1", PolicyNumber: "POL-200",
				InsuredName: "Bob Jones", CarrierName: "Beacon Life",
				EffectiveDate: day(1), TxnDate: day(11),
				WrittenPremium: decimal.RequireFromString("2000"), GrossCommission: decimal.RequireFromString("200.00"),
				TxnType: matcher.TxnRenewal,
			},
			{
				LineID: "L-3", StatementID: "S-2", PolicyNumber: "POL-3X9",
				InsuredName: "Cara Diaz", CarrierName: "Cedar Group",
				EffectiveDate: day(1), TxnDate: day(20),
				WrittenPremium: decimal.RequireFromString("750"), GrossCommission: decimal.RequireFromString("75.00"),
				TxnType: matcher.TxnEndorsement,
			},
		},
		Transactions: []matcher.CashTransaction{
			{BankTxnID: "TX-1", PostedDate: day(10), Amount: decimal.RequireFromString("120.00"), Counterparty: "Acme Mutual", Memo: "Commission POL-100"},
			{BankTxnID: "TX-2", PostedDate: day(12), Amount: decimal.RequireFromString("205.00"), Counterparty: "Other Co", Memo: "Payment POL-200"},
			{BankTxnID: "TX-3", PostedDate: time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC), Amount: decimal.RequireFromString("75.00"), Counterparty: "Zeta", Memo: "POL-309"},
		},
	}
}

func newTestService(t *testing.T) (*ReconService, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	svc := NewReconService(repo, &staticSource{data: sampleDataset()}, matcher.DefaultConfig(), nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	ids := []string{"aaaaaaaa-1111-2222-3333-444444444444", "bbbbbbbb-1111-2222-3333-444444444444", "cccccccc-1111-2222-3333-444444444444"}
	n := 0
	svc.newID = func() string {
		id := ids[n%len(ids)]
		n++
		return id
	}
	return svc, repo
}

func statusOf(results []matcher.Result, lineID string) matcher.Status {
	for _, r := range results {
		if r.LineID == lineID {
			return r.Status
		}
	}
	return ""
}

func TestReconService_Preview(t *testing.T) {
	svc, repo := newTestService(t)

	preview, err := svc.Preview(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, preview.Totals.StatementRows)
	assert.Equal(t, 3, preview.Totals.BankRows)
	assert.Equal(t, 1, preview.Totals.AutoMatched)
	assert.Equal(t, 1, preview.Totals.NeedsReview)
	assert.Equal(t, 1, preview.Totals.Unmatched)
	assert.Len(t, preview.Sample, 3)
	assert.False(t, repo.SaveRunCalled, "preview must not persist")
}

func TestReconService_Preview_SourceError(t *testing.T) {
	repo := storage.NewMockRepository()
	svc := NewReconService(repo, &staticSource{err: apperr.InputMalformed("row 2: bad date")}, matcher.DefaultConfig(), nil)

	_, err := svc.Preview(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.KindInputMalformed, apperr.KindOf(err))
}

func TestReconService_CreateRun(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateRun(ctx)
	require.NoError(t, err)

	assert.Equal(t, "run-20260304-050607-aaaaaaaa", created.RunID)
	assert.Equal(t, storage.SaveCounts{AutoMatched: 1, NeedsReview: 1, Unmatched: 1}, created.StoredCounts)
	assert.Equal(t, 3, created.Totals.StatementRows)

	events := repo.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "match_run", events[0].EventType)
	assert.Equal(t, "created", events[0].Action)
	assert.Equal(t, created.RunID, events[0].EntityID)
	require.NotNil(t, events[0].Detail)
	assert.Equal(t, "auto=1 review=1 unmatched=1", *events[0].Detail)
}

func TestReconService_CreateRun_SaveError(t *testing.T) {
	svc, repo := newTestService(t)
	repo.SaveRunErr = errors.New("disk full")

	_, err := svc.CreateRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, repo.AuditEvents())
}

func TestReconService_CreateRun_AuditFailureIsNotFatal(t *testing.T) {
	svc, repo := newTestService(t)
	repo.LogAuditErr = errors.New("audit table locked")

	created, err := svc.CreateRun(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, created.RunID)
}

func TestReconService_PolicyRuleChangesNextRun(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateRun(ctx)
	require.NoError(t, err)

	rule, err := svc.UpsertPolicyRule(ctx, "  POL-3X9 ", "POL-309", nil)
	require.NoError(t, err)
	assert.Equal(t, "POL-3X9", rule.SourcePolicyNumber)

	preview, err := svc.Preview(ctx)
	require.NoError(t, err)
	assert.Equal(t, matcher.StatusNeedsReview, statusOf(preview.Sample, "L-3"))
	for _, r := range preview.Sample {
		if r.LineID == "L-3" {
			assert.Equal(t, "POL-309", r.PolicyNumber)
			assert.True(t, r.Reasons.Has(matcher.TagPolicyRuleOverride))
		}
	}

	second, err := svc.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.StoredCounts.NeedsReview)
}

func TestReconService_UpsertPolicyRule(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertPolicyRule(ctx, "POL-1", "  ", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInputMalformed, apperr.KindOf(err))
	assert.False(t, repo.UpsertRuleCalled)

	_, err = svc.UpsertPolicyRule(ctx, "POL-1", "POL-2", nil)
	require.NoError(t, err)

	events := repo.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "rule_created", events[0].EventType)
	assert.Equal(t, "policy_rule", events[0].EntityType)
	assert.Equal(t, "POL-1", events[0].EntityID)
	assert.Equal(t, "Map POL-1 → POL-2", *events[0].Detail)
	assert.Equal(t, "POL-2", *events[0].NewValue)

	rules, err := svc.ListPolicyRules(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestReconService_ListResults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	empty, err := svc.ListResults(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, empty.RunID)
	assert.Empty(t, empty.Results)

	_, err = svc.CreateRun(ctx)
	require.NoError(t, err)

	page, err := svc.ListResults(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Results, 3)
	assert.Equal(t, "L-1", page.Results[0].LineID)
	assert.Equal(t, "S-1", page.Results[0].StatementID)
	assert.Equal(t, "Acme Mutual", page.Results[0].CarrierName)
	assert.Equal(t, "120.00", page.Results[0].GrossCommission)
	assert.Equal(t, matcher.TxnNew, page.Results[0].TxnType)

	review, err := svc.ListResults(ctx, "needs_review", 0)
	require.NoError(t, err)
	require.Len(t, review.Results, 1)
	assert.Equal(t, "L-2", review.Results[0].LineID)

	_, err = svc.ListResults(ctx, "bogus", 0)
	assert.Equal(t, apperr.KindInputMalformed, apperr.KindOf(err))
}

func TestReconService_ResolveException(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateRun(ctx)
	require.NoError(t, err)

	open, err := svc.ListExceptions(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, open.Exceptions, 1)
	assert.Equal(t, "L-2", open.Exceptions[0].LineID)

	rec, err := svc.ResolveException(ctx, ResolveRequest{
		LineID: "L-2",
		Action: "accept_suggestion",
		Note:   ptr("verified against remittance"),
	})
	require.NoError(t, err)
	assert.Equal(t, storage.ExceptionResolved, rec.Status)

	events := repo.AuditEvents()
	last := events[len(events)-1]
	assert.Equal(t, "exception_resolved", last.EventType)
	assert.Equal(t, "line", last.EntityType)
	assert.Equal(t, "L-2", last.EntityID)
	assert.Equal(t, "accept_suggestion", last.Action)
	assert.Equal(t, ActorAnalyst, last.Actor)
	assert.Equal(t, "open", *last.OldValue)
	assert.Equal(t, "resolved", *last.NewValue)
	assert.Equal(t, "verified against remittance", *last.Detail)

	_, err = svc.ResolveException(ctx, ResolveRequest{LineID: "L-2", Action: "accept_suggestion"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	open, err = svc.ListExceptions(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, open.Exceptions)

	resolved, err := svc.ListExceptions(ctx, "resolved", 0)
	require.NoError(t, err)
	assert.Len(t, resolved.Exceptions, 1)
}

func TestReconService_ResolveException_Validation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.ResolveException(ctx, ResolveRequest{LineID: " ", Action: "x"})
	assert.Equal(t, apperr.KindInputMalformed, apperr.KindOf(err))

	_, err = svc.ResolveException(ctx, ResolveRequest{LineID: "L-1"})
	assert.Equal(t, apperr.KindInputMalformed, apperr.KindOf(err))

	assert.False(t, repo.ResolveExceptionCalled)

	_, err = svc.ListExceptions(ctx, "pending", 0)
	assert.Equal(t, apperr.KindInputMalformed, apperr.KindOf(err))
}

func TestReconService_Sweep(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	none, err := svc.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none.Resolved)
	assert.Equal(t, "No match run found", none.Message)

	_, err = svc.UpsertPolicyRule(ctx, "POL-3X9", "POL-309", nil)
	require.NoError(t, err)
	created, err := svc.CreateRun(ctx)
	require.NoError(t, err)

	result, err := svc.Sweep(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, created.RunID, result.RunID)
	// L-3 scores 0.85, above L-2 at 0.80
	assert.Equal(t, []string{"L-3"}, result.Resolved)

	require.NotNil(t, repo.LastResolveParams)
	assert.Equal(t, created.RunID, repo.LastResolveParams.RunID)
	assert.Equal(t, ActionAutoResolved, repo.LastResolveParams.Action)
	assert.Equal(t, "TX-3", *repo.LastResolveParams.BankTxnID)
	assert.Equal(t, "Background reconciliation (confidence: 85.0%)", *repo.LastResolveParams.Note)

	events := repo.AuditEvents()
	last := events[len(events)-1]
	assert.Equal(t, "background_recon", last.EventType)
	assert.Equal(t, ActorSystem, last.Actor)
	assert.Equal(t, "Auto-resolved at 85.0% confidence", *last.Detail)

	rest, err := svc.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"L-2"}, rest.Resolved)

	open, err := svc.ListExceptions(ctx, "open", 0)
	require.NoError(t, err)
	assert.Empty(t, open.Exceptions)
}

// supersedingRepository commits a newer run right after the sweep lists its
// candidates.
type supersedingRepository struct {
	*storage.MockRepository
	results []matcher.Result
	done    bool
}

func (r *supersedingRepository) ListExceptions(ctx context.Context, filter storage.ExceptionFilter) (*storage.ExceptionList, error) {
	list, err := r.MockRepository.ListExceptions(ctx, filter)
	if err != nil || r.done {
		return list, err
	}
	r.done = true
	if _, err := r.MockRepository.SaveRun(ctx, "run-newer", r.results); err != nil {
		return nil, err
	}
	return list, nil
}

func TestReconService_SweepSkipsSupersededRun(t *testing.T) {
	repo := &supersedingRepository{MockRepository: storage.NewMockRepository()}
	svc := NewReconService(repo, &staticSource{data: sampleDataset()}, matcher.DefaultConfig(), nil)
	ctx := context.Background()

	_, err := svc.UpsertPolicyRule(ctx, "POL-3X9", "POL-309", nil)
	require.NoError(t, err)
	created, err := svc.CreateRun(ctx)
	require.NoError(t, err)

	// The newer run suggests a different transaction for the same lines.
	preview, err := svc.Preview(ctx)
	require.NoError(t, err)
	for _, r := range preview.Sample {
		if r.Status == matcher.StatusNeedsReview {
			r.MatchedBankTxnID = "TX-NEW"
		}
		repo.results = append(repo.results, r)
	}

	result, err := svc.Sweep(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, created.RunID, result.RunID)
	assert.Empty(t, result.Resolved)
	assert.Equal(t, "Auto-resolved 0 exception(s)", result.Message)

	open, err := svc.ListExceptions(ctx, "open", 0)
	require.NoError(t, err)
	assert.Equal(t, "run-newer", open.RunID)
	require.Len(t, open.Exceptions, 2)
	for _, exc := range open.Exceptions {
		require.NotNil(t, exc.SuggestedBankTxnID)
		assert.Equal(t, "TX-NEW", *exc.SuggestedBankTxnID)
	}
}

func TestReconService_BackgroundSweep(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateRun(ctx)
	require.NoError(t, err)

	svc.StartBackgroundSweep(10*time.Millisecond, 5)
	assert.Eventually(t, func() bool {
		open, err := svc.ListExceptions(ctx, "open", 0)
		return err == nil && len(open.Exceptions) == 0
	}, 2*time.Second, 10*time.Millisecond)
	svc.StopBackgroundSweep()

	// Stopping twice is a no-op
	svc.StopBackgroundSweep()
}

func TestReconService_CompareRuns(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cmp, err := svc.CompareRuns(ctx, "", "")
	require.NoError(t, err)
	assert.False(t, cmp.Available)
	assert.Contains(t, cmp.Message, "Need at least 2 match runs")

	first, err := svc.CreateRun(ctx)
	require.NoError(t, err)
	_, err = svc.UpsertPolicyRule(ctx, "POL-3X9", "POL-309", nil)
	require.NoError(t, err)
	second, err := svc.CreateRun(ctx)
	require.NoError(t, err)

	cmp, err = svc.CompareRuns(ctx, "", "")
	require.NoError(t, err)
	require.True(t, cmp.Available)
	assert.Equal(t, first.RunID, cmp.RunA.RunID)
	assert.Equal(t, second.RunID, cmp.RunB.RunID)
	assert.Equal(t, 1, cmp.TotalChanges)
	assert.Equal(t, 0, cmp.Improved, "unmatched to needs_review is neutral")
	assert.Equal(t, 0, cmp.Regressed)
	assert.Equal(t, []compare.TransitionCount{{Transition: "unmatched → needs_review", Count: 1}}, cmp.Transitions)
	require.Len(t, cmp.Changes, 1)
	assert.Equal(t, "L-3", cmp.Changes[0].LineID)
	assert.Equal(t, compare.Neutral, cmp.Changes[0].Direction)

	explicit, err := svc.CompareRuns(ctx, first.RunID, second.RunID)
	require.NoError(t, err)
	assert.Equal(t, cmp.TotalChanges, explicit.TotalChanges)
}

func TestReconService_CompareRuns_OverrideAutoMatches(t *testing.T) {
	data := sampleDataset()
	// TX-3 lands inside the near-date window, so the mapped policy number
	// lifts L-3 from 0.40 to 0.95.
	data.Transactions[2].PostedDate = day(21)

	repo := storage.NewMockRepository()
	svc := NewReconService(repo, &staticSource{data: data}, matcher.DefaultConfig(), nil)
	ctx := context.Background()

	first, err := svc.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.SaveCounts{AutoMatched: 1, NeedsReview: 1, Unmatched: 1}, first.StoredCounts)

	_, err = svc.UpsertPolicyRule(ctx, "POL-3X9", "POL-309", nil)
	require.NoError(t, err)
	second, err := svc.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.SaveCounts{AutoMatched: 2, NeedsReview: 1, Unmatched: 0}, second.StoredCounts)

	cmp, err := svc.CompareRuns(ctx, "", "")
	require.NoError(t, err)
	require.True(t, cmp.Available)
	assert.Equal(t, 1, cmp.TotalChanges)
	assert.Equal(t, 1, cmp.Improved)
	require.Len(t, cmp.Changes, 1)

	change := cmp.Changes[0]
	assert.Equal(t, "L-3", change.LineID)
	assert.Equal(t, compare.Improved, change.Direction)
	assert.Equal(t, matcher.StatusAutoMatched, change.NewStatus)
	assert.InDelta(t, 0.95, change.NewConfidence, 1e-9)
	assert.Equal(t, "TX-3", change.NewBankTxnID)
	assert.InDelta(t, 0.55, cmp.AvgConfidenceDelta, 1e-9)
}

func TestReconService_CompareRuns_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateRun(ctx)
	require.NoError(t, err)

	_, err = svc.CompareRuns(ctx, created.RunID, "")
	assert.Equal(t, apperr.KindInputMalformed, apperr.KindOf(err))

	_, err = svc.CompareRuns(ctx, created.RunID, created.RunID)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	_, err = svc.CompareRuns(ctx, created.RunID, "run-missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestReconService_LineDetail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.LineDetail(ctx, "L-404")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	before, err := svc.LineDetail(ctx, "L-2")
	require.NoError(t, err)
	assert.Nil(t, before.MatchResult)
	assert.Empty(t, before.ScoreFactors)

	_, err = svc.CreateRun(ctx)
	require.NoError(t, err)
	_, err = svc.ResolveException(ctx, ResolveRequest{LineID: "L-2", Action: "accept_suggestion"})
	require.NoError(t, err)

	detail, err := svc.LineDetail(ctx, "L-2")
	require.NoError(t, err)
	assert.Equal(t, "POL-200", detail.Statement.PolicyNumber)
	assert.Equal(t, "2026-01-11", detail.Statement.TxnDate)
	require.NotNil(t, detail.MatchResult)
	assert.Equal(t, matcher.StatusResolved, detail.MatchResult.Status)
	require.NotNil(t, detail.Exception)
	assert.Equal(t, storage.ExceptionResolved, detail.Exception.Status)
	require.NotNil(t, detail.BankTransaction)
	assert.Equal(t, "TX-2", detail.BankTransaction.BankTxnID)
	assert.Equal(t, "205.00", detail.BankTransaction.Amount)

	keys := make([]matcher.Tag, len(detail.ScoreFactors))
	for i, f := range detail.ScoreFactors {
		keys[i] = f.Key
	}
	assert.Equal(t, []matcher.Tag{matcher.TagPolicyInMemo, matcher.TagNearAmount, matcher.TagNearDate, matcher.TagManualResolution}, keys)
	assert.Equal(t, 0.55, detail.ScoreFactors[0].Weight)
	assert.Equal(t, "Policy in Memo", detail.ScoreFactors[0].Label)

	require.Len(t, detail.AuditEvents, 1)
	assert.Equal(t, "exception_resolved", detail.AuditEvents[0].EventType)
}

func TestReconService_WithSQLite(t *testing.T) {
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "recon.db"))
	require.NoError(t, err)
	defer store.Close()

	svc := NewReconService(store, &staticSource{data: sampleDataset()}, matcher.DefaultConfig(), nil)
	ctx := context.Background()

	created, err := svc.CreateRun(ctx)
	require.NoError(t, err)
	assert.Regexp(t, `^run-\d{8}-\d{6}-[0-9a-f]{8}$`, created.RunID)

	result, err := svc.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"L-2"}, result.Resolved)

	runs, err := svc.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Resolved)

	audit, err := svc.ListAudit(ctx, storage.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, "background_recon", audit[0].EventType)
	assert.Equal(t, "match_run", audit[1].EventType)
}
