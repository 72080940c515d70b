// Package service orchestrates matching runs, the exception queue, policy
// rules and the audit trail on top of the storage and ingest layers.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/eshaffer321/commission-recon/internal/apperr"
	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
	"github.com/eshaffer321/commission-recon/internal/domain/policyrules"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/ingest"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/logging"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

// ReconService manages reconciliation operations.
type ReconService struct {
	storage storage.Repository
	source  ingest.Source
	matcher *matcher.Matcher
	logger  *slog.Logger

	now   func() time.Time
	newID func() string

	// Background sweep
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewReconService creates a new reconciliation service.
func NewReconService(
	store storage.Repository,
	source ingest.Source,
	cfg matcher.Config,
	logger *slog.Logger,
) *ReconService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ReconService{
		storage: store,
		source:  source,
		matcher: matcher.NewMatcher(cfg),
		logger:  logger.With(slog.String("system", "recon")),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// newRunID returns run-YYYYMMDD-HHMMSS-<8 hex chars>.
func (s *ReconService) newRunID() string {
	suffix := strings.ReplaceAll(s.newID(), "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("run-%s-%s", s.now().UTC().Format("20060102-150405"), suffix)
}

// LoadPolicyOverrides reads every stored policy rule into an override map.
func (s *ReconService) LoadPolicyOverrides(ctx context.Context) (policyrules.Overrides, error) {
	rules, err := s.storage.ListPolicyRules(ctx, 0)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load policy rules")
	}
	return policyrules.FromRules(rules), nil
}

// match loads both feeds and the current overrides and runs the matcher.
func (s *ReconService) match(ctx context.Context) (*matcher.Outcome, error) {
	data, err := s.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := s.LoadPolicyOverrides(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	outcome, err := s.matcher.Run(data.Lines, data.Transactions, overrides)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("matcher finished",
		"statement_rows", outcome.Totals.StatementRows,
		"bank_rows", outcome.Totals.BankRows,
		"overrides", len(overrides),
		"duration", time.Since(start),
	)
	return outcome, nil
}

// Preview runs the matcher without persisting anything.
func (s *ReconService) Preview(ctx context.Context) (*Preview, error) {
	outcome, err := s.match(ctx)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Totals: outcome.Totals,
		Sample: outcome.Sample(previewSampleSize),
	}, nil
}

// CreateRun runs the matcher and persists the outcome as a new run.
func (s *ReconService) CreateRun(ctx context.Context) (*RunCreated, error) {
	outcome, err := s.match(ctx)
	if err != nil {
		return nil, err
	}

	runID := s.newRunID()
	counts, err := s.storage.SaveRun(ctx, runID, outcome.Results)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to save run %s", runID)
	}

	s.audit(ctx, &storage.AuditEvent{
		EventType:  "match_run",
		EntityType: "match_run",
		EntityID:   runID,
		Action:     "created",
		Actor:      ActorAnalyst,
		Detail: ptr(fmt.Sprintf("auto=%d review=%d unmatched=%d",
			counts.AutoMatched, counts.NeedsReview, counts.Unmatched)),
	})

	s.logger.Info("match run created",
		"run_id", runID,
		"auto_matched", counts.AutoMatched,
		"needs_review", counts.NeedsReview,
		"unmatched", counts.Unmatched,
	)

	return &RunCreated{
		RunID:        runID,
		Totals:       outcome.Totals,
		StoredCounts: *counts,
	}, nil
}

// ListRuns returns run summaries, newest first.
func (s *ReconService) ListRuns(ctx context.Context, limit int) ([]storage.RunSummary, error) {
	return s.storage.ListRuns(ctx, orDefault(limit, DefaultRunLimit))
}

// ListResults returns latest-run results enriched with statement fields.
// Lines that are no longer in the statement feed keep blank statement fields.
func (s *ReconService) ListResults(ctx context.Context, status string, limit int) (*ResultPage, error) {
	filter := storage.ResultFilter{Limit: orDefault(limit, DefaultResultLimit)}
	if status != "" {
		filter.Status = matcher.Status(status)
		if !filter.Status.Valid() {
			return nil, apperr.InputMalformed("invalid status filter %q", status)
		}
	}

	list, err := s.storage.ListResults(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &ResultPage{RunID: list.RunID, Results: make([]ResultRow, 0, len(list.Results))}
	if len(list.Results) == 0 {
		return page, nil
	}

	data, err := s.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range list.Results {
		row := ResultRow{ResultRecord: rec}
		if line, ok := data.Line(rec.LineID); ok {
			row.StatementID = line.StatementID
			row.InsuredName = line.InsuredName
			row.CarrierName = line.CarrierName
			row.TxnType = line.TxnType
			row.GrossCommission = line.GrossCommission.StringFixed(2)
		}
		page.Results = append(page.Results, row)
	}
	return page, nil
}

// UpsertPolicyRule stores an override and records it in the audit trail.
func (s *ReconService) UpsertPolicyRule(ctx context.Context, source, target string, note *string) (*policyrules.Rule, error) {
	source, target, ok := policyrules.Normalize(source, target)
	if !ok {
		return nil, apperr.InputMalformed("source_policy_number and target_policy_number are required")
	}

	rule, err := s.storage.UpsertPolicyRule(ctx, policyrules.Rule{
		SourcePolicyNumber: source,
		TargetPolicyNumber: target,
		Note:               note,
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, &storage.AuditEvent{
		EventType:  "rule_created",
		EntityType: "policy_rule",
		EntityID:   source,
		Action:     "upsert",
		Actor:      ActorAnalyst,
		NewValue:   ptr(target),
		Detail:     ptr(fmt.Sprintf("Map %s → %s", source, target)),
	})
	s.logger.Info("policy rule saved", "source", source, "target", target)

	return rule, nil
}

// ListPolicyRules returns rules, most recently updated first.
func (s *ReconService) ListPolicyRules(ctx context.Context, limit int) ([]policyrules.Rule, error) {
	return s.storage.ListPolicyRules(ctx, orDefault(limit, DefaultRuleLimit))
}

// ListAudit returns audit events, newest first.
func (s *ReconService) ListAudit(ctx context.Context, filter storage.AuditFilter) ([]storage.AuditEvent, error) {
	filter.Limit = orDefault(filter.Limit, DefaultAuditLimit)
	return s.storage.ListAuditEvents(ctx, filter)
}

// audit stores an event. The triggering change is already committed, so a
// failure here is logged and swallowed.
func (s *ReconService) audit(ctx context.Context, event *storage.AuditEvent) {
	if err := s.storage.LogAuditEvent(ctx, event); err != nil {
		s.logger.Warn("failed to record audit event",
			"event_type", event.EventType,
			"entity_id", event.EntityID,
			"error", err,
		)
	}
}

func orDefault(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

func ptr(s string) *string {
	return &s
}
