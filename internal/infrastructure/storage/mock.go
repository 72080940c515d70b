package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eshaffer321/commission-recon/internal/apperr"
	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
	"github.com/eshaffer321/commission-recon/internal/domain/policyrules"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It stores all data in maps and slices, making tests fast and isolated.
type MockRepository struct {
	mu         sync.Mutex
	runs       []*mockRun // insertion order = created_at order
	rules      map[string]policyrules.Rule
	audit      []AuditEvent
	nextAudit  int64
	clockTicks int

	// Hooks for test assertions
	SaveRunCalled          bool
	LastSavedRunID         string
	ResolveExceptionCalled bool
	LastResolveParams      *ResolveParams
	UpsertRuleCalled       bool

	// Error injection for testing error paths
	SaveRunErr          error
	LatestRunErr        error
	ListRunsErr         error
	ListResultsErr      error
	ListExceptionsErr   error
	ResolveExceptionErr error
	UpsertRuleErr       error
	ListRulesErr        error
	LogAuditErr         error
}

type mockRun struct {
	id         string
	createdAt  string
	results    []ResultRecord
	exceptions map[string]*ExceptionRecord
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		rules:     make(map[string]policyrules.Rule),
		nextAudit: 1,
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

// tick returns a strictly increasing timestamp.
func (m *MockRepository) tick() string {
	m.clockTicks++
	return time.Date(2026, 1, 1, 0, 0, m.clockTicks, 0, time.UTC).Format(timeLayout)
}

func (m *MockRepository) latest() *mockRun {
	if len(m.runs) == 0 {
		return nil
	}
	return m.runs[len(m.runs)-1]
}

func (m *MockRepository) find(runID string) *mockRun {
	for _, r := range m.runs {
		if r.id == runID {
			return r
		}
	}
	return nil
}

// SaveRun stores the run in memory with the same validation as Storage
func (m *MockRepository) SaveRun(_ context.Context, runID string, results []matcher.Result) (*SaveCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveRunCalled = true
	m.LastSavedRunID = runID
	if m.SaveRunErr != nil {
		return nil, m.SaveRunErr
	}
	if strings.TrimSpace(runID) == "" {
		return nil, apperr.InputMalformed("run id is required")
	}
	if m.find(runID) != nil {
		return nil, apperr.InvalidState("run %s already exists", runID)
	}

	run := &mockRun{id: runID, createdAt: m.tick(), exceptions: make(map[string]*ExceptionRecord)}
	counts := &SaveCounts{}
	seen := make(map[string]bool)
	for _, r := range results {
		if !r.Status.Valid() || r.Status == matcher.StatusResolved {
			return nil, apperr.InputMalformed("line %s: cannot save a result with status %q", r.LineID, r.Status)
		}
		if seen[r.LineID] {
			return nil, apperr.InvalidState("line %s appears more than once in run %s", r.LineID, runID)
		}
		seen[r.LineID] = true

		rec := ResultRecord{
			RunID:        runID,
			LineID:       r.LineID,
			PolicyNumber: r.PolicyNumber,
			Confidence:   r.Confidence,
			Status:       r.Status,
			Reason:       r.Reasons.String(),
		}
		if r.MatchedBankTxnID != "" {
			id := r.MatchedBankTxnID
			rec.MatchedBankTxnID = &id
		}
		run.results = append(run.results, rec)

		switch r.Status {
		case matcher.StatusAutoMatched:
			counts.AutoMatched++
		case matcher.StatusNeedsReview:
			counts.NeedsReview++
			run.exceptions[r.LineID] = &ExceptionRecord{
				RunID:              runID,
				LineID:             r.LineID,
				Reason:             rec.Reason,
				SuggestedBankTxnID: rec.MatchedBankTxnID,
				Status:             ExceptionOpen,
			}
		case matcher.StatusUnmatched:
			counts.Unmatched++
		}
	}

	m.runs = append(m.runs, run)
	return counts, nil
}

// LatestRunID returns the most recently saved run id
func (m *MockRepository) LatestRunID(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.LatestRunErr != nil {
		return "", m.LatestRunErr
	}
	if run := m.latest(); run != nil {
		return run.id, nil
	}
	return "", nil
}

func summarize(run *mockRun) RunSummary {
	rs := RunSummary{RunID: run.id, CreatedAt: run.createdAt, Total: len(run.results)}
	for _, r := range run.results {
		switch r.Status {
		case matcher.StatusAutoMatched:
			rs.AutoMatched++
		case matcher.StatusNeedsReview:
			rs.NeedsReview++
		case matcher.StatusUnmatched:
			rs.Unmatched++
		case matcher.StatusResolved:
			rs.Resolved++
		}
	}
	return rs
}

// GetRun returns a run summary or nil
func (m *MockRepository) GetRun(_ context.Context, runID string) (*RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run := m.find(runID)
	if run == nil {
		return nil, nil
	}
	rs := summarize(run)
	return &rs, nil
}

// ListRuns returns run summaries newest first
func (m *MockRepository) ListRuns(_ context.Context, limit int) ([]RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListRunsErr != nil {
		return nil, m.ListRunsErr
	}
	runs := []RunSummary{}
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(runs) == limit {
			break
		}
		runs = append(runs, summarize(m.runs[i]))
	}
	return runs, nil
}

// ListResults returns the latest run's results, highest confidence first
func (m *MockRepository) ListResults(_ context.Context, filter ResultFilter) (*ResultList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListResultsErr != nil {
		return nil, m.ListResultsErr
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.InputMalformed("unknown result status %q", filter.Status)
	}

	list := &ResultList{Results: []ResultRecord{}}
	run := m.latest()
	if run == nil {
		return list, nil
	}
	list.RunID = run.id
	for _, r := range run.results {
		if filter.Status == "" || r.Status == filter.Status {
			list.Results = append(list.Results, r)
		}
	}
	sort.SliceStable(list.Results, func(i, j int) bool {
		a, b := list.Results[i], list.Results[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.LineID < b.LineID
	})
	if filter.Limit > 0 && len(list.Results) > filter.Limit {
		list.Results = list.Results[:filter.Limit]
	}
	return list, nil
}

// GetRunResults returns a run's results ordered by line id
func (m *MockRepository) GetRunResults(_ context.Context, runID string) ([]ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := []ResultRecord{}
	if run := m.find(runID); run != nil {
		results = append(results, run.results...)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].LineID < results[j].LineID })
	return results, nil
}

// GetLine returns the latest run's record for a line
func (m *MockRepository) GetLine(_ context.Context, lineID string) (*LineRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run := m.latest()
	if run == nil {
		return nil, nil
	}
	for _, r := range run.results {
		if r.LineID == lineID {
			return &LineRecord{RunID: run.id, Result: r, Exception: m.joined(run, lineID)}, nil
		}
	}
	return nil, nil
}

func (m *MockRepository) joined(run *mockRun, lineID string) *ExceptionRecord {
	e, ok := run.exceptions[lineID]
	if !ok {
		return nil
	}
	out := *e
	for _, r := range run.results {
		if r.LineID == lineID {
			out.PolicyNumber, out.Confidence, out.ResultStatus = r.PolicyNumber, r.Confidence, r.Status
		}
	}
	return &out
}

// ListExceptions returns the latest run's exceptions, highest confidence first
func (m *MockRepository) ListExceptions(_ context.Context, filter ExceptionFilter) (*ExceptionList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListExceptionsErr != nil {
		return nil, m.ListExceptionsErr
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.InputMalformed("unknown exception status %q", filter.Status)
	}

	list := &ExceptionList{Exceptions: []ExceptionRecord{}}
	run := m.latest()
	if run == nil {
		return list, nil
	}
	list.RunID = run.id
	for lineID, e := range run.exceptions {
		if filter.Status == "" || e.Status == filter.Status {
			list.Exceptions = append(list.Exceptions, *m.joined(run, lineID))
		}
	}
	sort.Slice(list.Exceptions, func(i, j int) bool {
		a, b := list.Exceptions[i], list.Exceptions[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.LineID < b.LineID
	})
	if filter.Limit > 0 && len(list.Exceptions) > filter.Limit {
		list.Exceptions = list.Exceptions[:filter.Limit]
	}
	return list, nil
}

// ResolveException closes an open exception of the latest run
func (m *MockRepository) ResolveException(_ context.Context, params ResolveParams) (*ExceptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ResolveExceptionCalled = true
	m.LastResolveParams = &params
	if m.ResolveExceptionErr != nil {
		return nil, m.ResolveExceptionErr
	}
	if strings.TrimSpace(params.LineID) == "" {
		return nil, apperr.InputMalformed("line_id is required")
	}
	if strings.TrimSpace(params.Action) == "" {
		return nil, apperr.InputMalformed("action is required")
	}

	run := m.latest()
	notFound := apperr.NotFound("no open exception for line %s in the latest run", params.LineID)
	if run == nil || (params.RunID != "" && params.RunID != run.id) {
		return nil, notFound
	}
	e, ok := run.exceptions[params.LineID]
	if !ok || e.Status != ExceptionOpen {
		return nil, notFound
	}

	now := m.tick()
	action := params.Action
	e.Status = ExceptionResolved
	e.ResolutionAction = &action
	e.ResolvedBankTxnID = nonEmpty(params.BankTxnID)
	e.ResolutionNote = nonEmpty(params.Note)
	e.UpdatedAt = &now

	for i := range run.results {
		r := &run.results[i]
		if r.LineID != params.LineID {
			continue
		}
		r.Status = matcher.StatusResolved
		if e.ResolvedBankTxnID != nil {
			r.MatchedBankTxnID = e.ResolvedBankTxnID
		}
		r.Reason = r.Reasons().With(matcher.TagManualResolution).String()
	}

	return m.joined(run, params.LineID), nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

// UpsertPolicyRule stores or replaces a rule
func (m *MockRepository) UpsertPolicyRule(_ context.Context, rule policyrules.Rule) (*policyrules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpsertRuleCalled = true
	if m.UpsertRuleErr != nil {
		return nil, m.UpsertRuleErr
	}
	source, target, ok := policyrules.Normalize(rule.SourcePolicyNumber, rule.TargetPolicyNumber)
	if !ok {
		return nil, apperr.InputMalformed("source and target policy numbers are required")
	}

	var note *string
	if rule.Note != nil {
		if trimmed := strings.TrimSpace(*rule.Note); trimmed != "" {
			note = &trimmed
		}
	}
	saved := policyrules.Rule{
		SourcePolicyNumber: source,
		TargetPolicyNumber: target,
		Note:               note,
		UpdatedAt:          m.tick(),
	}
	m.rules[source] = saved
	return &saved, nil
}

// ListPolicyRules returns rules, most recently updated first
func (m *MockRepository) ListPolicyRules(_ context.Context, limit int) ([]policyrules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListRulesErr != nil {
		return nil, m.ListRulesErr
	}
	rules := make([]policyrules.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].UpdatedAt != rules[j].UpdatedAt {
			return rules[i].UpdatedAt > rules[j].UpdatedAt
		}
		return rules[i].SourcePolicyNumber < rules[j].SourcePolicyNumber
	})
	if limit > 0 && len(rules) > limit {
		rules = rules[:limit]
	}
	return rules, nil
}

// LogAuditEvent appends an event
func (m *MockRepository) LogAuditEvent(_ context.Context, event *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.LogAuditErr != nil {
		return m.LogAuditErr
	}
	if event.EventType == "" || event.EntityType == "" || event.EntityID == "" || event.Action == "" {
		return apperr.InputMalformed("audit event needs event_type, entity_type, entity_id and action")
	}
	if event.Actor == "" {
		event.Actor = "system"
	}
	event.ID = m.nextAudit
	m.nextAudit++
	event.CreatedAt = m.tick()
	m.audit = append(m.audit, *event)
	return nil
}

// ListAuditEvents returns events newest first
func (m *MockRepository) ListAuditEvents(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := []AuditEvent{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		events = append(events, e)
		if filter.Limit > 0 && len(events) == filter.Limit {
			break
		}
	}
	return events, nil
}

// AuditEvents returns every logged event in insertion order
func (m *MockRepository) AuditEvents() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEvent(nil), m.audit...)
}

// String is a debugging aid for failed assertions
func (m *MockRepository) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("MockRepository{runs: %d, rules: %d, audit: %d}", len(m.runs), len(m.rules), len(m.audit))
}
