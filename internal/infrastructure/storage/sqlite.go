package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"github.com/eshaffer321/commission-recon/internal/apperr"
	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
	"github.com/eshaffer321/commission-recon/internal/domain/policyrules"
)

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Storage provides SQLite database access for runs, exceptions, policy rules
// and the audit trail. It implements the Repository interface.
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage opens (or creates) the SQLite database at dbPath and runs all
// pending migrations.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, eris.Wrapf(err, "storage: open %s", dbPath)
	}

	s := &Storage{db: db, now: time.Now}

	if err := s.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// dsn enables foreign keys on every pooled connection and makes each write
// transaction take the database lock up front, so concurrent resolutions of
// the same line are serialized.
func dsn(path string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type scanner interface {
	Scan(dest ...any) error
}

// withTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "storage: begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = eris.Wrap(cerr, "storage: commit transaction")
		}
	}()

	return fn(tx)
}

// =============================================================================
// Runs and results
// =============================================================================

// SaveRun stores a run with its results, seeding an open exception for every
// needs_review line. All rows are written in one transaction.
func (s *Storage) SaveRun(ctx context.Context, runID string, results []matcher.Result) (*SaveCounts, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, apperr.InputMalformed("run id is required")
	}

	counts := &SaveCounts{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO match_runs (run_id, created_at) VALUES (?, ?)`,
			runID, s.timestamp())
		if err != nil {
			if isConstraintErr(err) {
				return apperr.InvalidState("run %s already exists", runID).WithCause(err)
			}
			return eris.Wrap(err, "storage: insert run")
		}

		resultStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO match_results
			(run_id, line_id, policy_number, matched_bank_txn_id, confidence, status, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "storage: prepare result insert")
		}
		defer resultStmt.Close()

		exceptionStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO exceptions (run_id, line_id, reason, suggested_bank_txn_id, status)
			VALUES (?, ?, ?, ?, 'open')`)
		if err != nil {
			return eris.Wrap(err, "storage: prepare exception insert")
		}
		defer exceptionStmt.Close()

		for _, r := range results {
			if !r.Status.Valid() || r.Status == matcher.StatusResolved {
				return apperr.InputMalformed("line %s: cannot save a result with status %q", r.LineID, r.Status)
			}

			reason := r.Reasons.String()
			bankTxnID := nullString(r.MatchedBankTxnID)

			_, err := resultStmt.ExecContext(ctx,
				runID, r.LineID, r.PolicyNumber, bankTxnID, r.Confidence, string(r.Status), reason)
			if err != nil {
				if isConstraintErr(err) {
					return apperr.InvalidState("line %s appears more than once in run %s", r.LineID, runID).WithCause(err)
				}
				return eris.Wrapf(err, "storage: insert result %s", r.LineID)
			}

			switch r.Status {
			case matcher.StatusAutoMatched:
				counts.AutoMatched++
			case matcher.StatusNeedsReview:
				counts.NeedsReview++
				if _, err := exceptionStmt.ExecContext(ctx, runID, r.LineID, reason, bankTxnID); err != nil {
					return eris.Wrapf(err, "storage: insert exception %s", r.LineID)
				}
			case matcher.StatusUnmatched:
				counts.Unmatched++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return counts, nil
}

// LatestRunID returns the most recent run id, or "" when no run exists.
func (s *Storage) LatestRunID(ctx context.Context) (string, error) {
	return latestRunID(ctx, s.db)
}

func latestRunID(ctx context.Context, q querier) (string, error) {
	var runID string
	err := q.QueryRowContext(ctx,
		`SELECT run_id FROM match_runs ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "storage: query latest run")
	}
	return runID, nil
}

const runSummarySelect = `
	SELECT r.run_id, r.created_at,
	       COALESCE(SUM(CASE WHEN m.status = 'auto_matched' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN m.status = 'needs_review' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN m.status = 'unmatched' THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN m.status = 'resolved' THEN 1 ELSE 0 END), 0),
	       COUNT(m.line_id)
	FROM match_runs r
	LEFT JOIN match_results m ON m.run_id = r.run_id`

func scanRunSummary(row scanner) (*RunSummary, error) {
	var rs RunSummary
	err := row.Scan(&rs.RunID, &rs.CreatedAt, &rs.AutoMatched, &rs.NeedsReview,
		&rs.Unmatched, &rs.Resolved, &rs.Total)
	if err != nil {
		return nil, err
	}
	return &rs, nil
}

// GetRun returns the summary of one run, or nil when it does not exist.
func (s *Storage) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	row := s.db.QueryRowContext(ctx, runSummarySelect+`
		WHERE r.run_id = ?
		GROUP BY r.run_id`, runID)

	rs, err := scanRunSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: get run %s", runID)
	}
	return rs, nil
}

// ListRuns returns run summaries, newest first.
func (s *Storage) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, runSummarySelect+`
		GROUP BY r.run_id
		ORDER BY r.created_at DESC, r.rowid DESC
		LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "storage: list runs")
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		rs, err := scanRunSummary(rows)
		if err != nil {
			return nil, eris.Wrap(err, "storage: scan run")
		}
		runs = append(runs, *rs)
	}
	return runs, eris.Wrap(rows.Err(), "storage: list runs")
}

const resultSelect = `
	SELECT run_id, line_id, policy_number, matched_bank_txn_id, confidence, status, reason
	FROM match_results`

func scanResult(row scanner) (*ResultRecord, error) {
	var (
		r         ResultRecord
		bankTxnID sql.NullString
		status    string
	)
	err := row.Scan(&r.RunID, &r.LineID, &r.PolicyNumber, &bankTxnID, &r.Confidence, &status, &r.Reason)
	if err != nil {
		return nil, err
	}
	r.MatchedBankTxnID = stringPtr(bankTxnID)
	r.Status = matcher.Status(status)
	return &r, nil
}

func collectResults(rows *sql.Rows) ([]ResultRecord, error) {
	defer rows.Close()

	results := []ResultRecord{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "storage: scan result")
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "storage: iterate results")
}

// ListResults returns the latest run's results, highest confidence first.
func (s *Storage) ListResults(ctx context.Context, filter ResultFilter) (*ResultList, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.InputMalformed("unknown result status %q", filter.Status)
	}

	runID, err := s.LatestRunID(ctx)
	if err != nil {
		return nil, err
	}
	list := &ResultList{RunID: runID, Results: []ResultRecord{}}
	if runID == "" {
		return list, nil
	}

	query := resultSelect + ` WHERE run_id = ?`
	args := []any{runID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY confidence DESC, line_id ASC LIMIT ?`
	args = append(args, sqlLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list results")
	}
	list.Results, err = collectResults(rows)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// GetRunResults returns every result of a run ordered by line id.
func (s *Storage) GetRunResults(ctx context.Context, runID string) ([]ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, resultSelect+` WHERE run_id = ? ORDER BY line_id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: results for run %s", runID)
	}
	return collectResults(rows)
}

// GetLine returns the latest run's result and exception for a line, or nil
// when the line is not part of the latest run.
func (s *Storage) GetLine(ctx context.Context, lineID string) (*LineRecord, error) {
	runID, err := s.LatestRunID(ctx)
	if err != nil || runID == "" {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, resultSelect+` WHERE run_id = ? AND line_id = ?`, runID, lineID)
	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: get line %s", lineID)
	}

	exception, err := getException(ctx, s.db, runID, lineID)
	if err != nil {
		return nil, err
	}

	return &LineRecord{RunID: runID, Result: *result, Exception: exception}, nil
}

// =============================================================================
// Exceptions
// =============================================================================

const exceptionSelect = `
	SELECT e.run_id, e.line_id, e.reason, e.suggested_bank_txn_id, e.status,
	       e.resolution_action, e.resolved_bank_txn_id, e.resolution_note, e.updated_at,
	       m.policy_number, m.confidence, m.status
	FROM exceptions e
	JOIN match_results m ON m.run_id = e.run_id AND m.line_id = e.line_id`

func scanException(row scanner) (*ExceptionRecord, error) {
	var (
		e                                          ExceptionRecord
		suggested, action, resolved, note, updated sql.NullString
		status, resultStatus                       string
	)
	err := row.Scan(&e.RunID, &e.LineID, &e.Reason, &suggested, &status,
		&action, &resolved, &note, &updated,
		&e.PolicyNumber, &e.Confidence, &resultStatus)
	if err != nil {
		return nil, err
	}
	e.SuggestedBankTxnID = stringPtr(suggested)
	e.Status = ExceptionStatus(status)
	e.ResolutionAction = stringPtr(action)
	e.ResolvedBankTxnID = stringPtr(resolved)
	e.ResolutionNote = stringPtr(note)
	e.UpdatedAt = stringPtr(updated)
	e.ResultStatus = matcher.Status(resultStatus)
	return &e, nil
}

func getException(ctx context.Context, q querier, runID, lineID string) (*ExceptionRecord, error) {
	row := q.QueryRowContext(ctx, exceptionSelect+` WHERE e.run_id = ? AND e.line_id = ?`, runID, lineID)
	e, err := scanException(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: get exception %s", lineID)
	}
	return e, nil
}

// ListExceptions returns the latest run's exceptions, highest confidence first.
func (s *Storage) ListExceptions(ctx context.Context, filter ExceptionFilter) (*ExceptionList, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.InputMalformed("unknown exception status %q", filter.Status)
	}

	runID, err := s.LatestRunID(ctx)
	if err != nil {
		return nil, err
	}
	list := &ExceptionList{RunID: runID, Exceptions: []ExceptionRecord{}}
	if runID == "" {
		return list, nil
	}

	query := exceptionSelect + ` WHERE e.run_id = ?`
	args := []any{runID}
	if filter.Status != "" {
		query += ` AND e.status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY m.confidence DESC, e.line_id ASC LIMIT ?`
	args = append(args, sqlLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list exceptions")
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, eris.Wrap(err, "storage: scan exception")
		}
		list.Exceptions = append(list.Exceptions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "storage: iterate exceptions")
	}
	return list, nil
}

// ResolveException closes the open exception for params.LineID in the latest
// run. The exception row and its result are updated in one transaction; the
// result keeps its factor tags and gains manual_resolution. A line whose
// exception is already resolved, or which is not open in the latest run,
// yields NotFound. A non-empty params.RunID must still be the latest run.
func (s *Storage) ResolveException(ctx context.Context, params ResolveParams) (*ExceptionRecord, error) {
	if strings.TrimSpace(params.LineID) == "" {
		return nil, apperr.InputMalformed("line_id is required")
	}
	if strings.TrimSpace(params.Action) == "" {
		return nil, apperr.InputMalformed("action is required")
	}

	notFound := apperr.NotFound("no open exception for line %s in the latest run", params.LineID)
	bankTxnID := nullable(params.BankTxnID)

	var resolved *ExceptionRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		runID, err := latestRunID(ctx, tx)
		if err != nil {
			return err
		}
		if runID == "" || (params.RunID != "" && params.RunID != runID) {
			return notFound
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE exceptions
			SET status = 'resolved',
			    resolution_action = ?,
			    resolved_bank_txn_id = ?,
			    resolution_note = ?,
			    updated_at = ?
			WHERE run_id = ? AND line_id = ? AND status = 'open'`,
			params.Action, bankTxnID, nullable(params.Note), s.timestamp(), runID, params.LineID)
		if err != nil {
			return eris.Wrapf(err, "storage: resolve exception %s", params.LineID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "storage: rows affected")
		}
		if n == 0 {
			return notFound
		}

		tag := string(matcher.TagManualResolution)
		_, err = tx.ExecContext(ctx, `
			UPDATE match_results
			SET status = 'resolved',
			    matched_bank_txn_id = COALESCE(?, matched_bank_txn_id),
			    reason = CASE WHEN reason = '' THEN ? ELSE reason || ',' || ? END
			WHERE run_id = ? AND line_id = ?`,
			bankTxnID, tag, tag, runID, params.LineID)
		if err != nil {
			return eris.Wrapf(err, "storage: mark result %s resolved", params.LineID)
		}

		resolved, err = getException(ctx, tx, runID, params.LineID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return resolved, nil
}

// =============================================================================
// Policy rules
// =============================================================================

// UpsertPolicyRule inserts or replaces the rule keyed by its source policy
// number. Both policy numbers are trimmed and required; a blank note is stored
// as NULL.
func (s *Storage) UpsertPolicyRule(ctx context.Context, rule policyrules.Rule) (*policyrules.Rule, error) {
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

	saved := &policyrules.Rule{
		SourcePolicyNumber: source,
		TargetPolicyNumber: target,
		Note:               note,
		UpdatedAt:          s.timestamp(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_rules (source_policy_number, target_policy_number, note, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_policy_number) DO UPDATE SET
			target_policy_number = excluded.target_policy_number,
			note = excluded.note,
			updated_at = excluded.updated_at`,
		saved.SourcePolicyNumber, saved.TargetPolicyNumber, nullable(saved.Note), saved.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: upsert policy rule %s", source)
	}

	return saved, nil
}

// ListPolicyRules returns rules, most recently updated first.
func (s *Storage) ListPolicyRules(ctx context.Context, limit int) ([]policyrules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_policy_number, target_policy_number, note, updated_at
		FROM policy_rules
		ORDER BY updated_at DESC, source_policy_number ASC
		LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "storage: list policy rules")
	}
	defer rows.Close()

	rules := []policyrules.Rule{}
	for rows.Next() {
		var (
			r    policyrules.Rule
			note sql.NullString
		)
		if err := rows.Scan(&r.SourcePolicyNumber, &r.TargetPolicyNumber, &note, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "storage: scan policy rule")
		}
		r.Note = stringPtr(note)
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "storage: iterate policy rules")
}

// =============================================================================
// Audit trail
// =============================================================================

// LogAuditEvent stores event and fills in its ID and CreatedAt. Actor
// defaults to "system".
func (s *Storage) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	if event.EventType == "" || event.EntityType == "" || event.EntityID == "" || event.Action == "" {
		return apperr.InputMalformed("audit event needs event_type, entity_type, entity_id and action")
	}
	if event.Actor == "" {
		event.Actor = "system"
	}
	event.CreatedAt = s.timestamp()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events
		(event_type, entity_type, entity_id, action, actor, old_value, new_value, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventType, event.EntityType, event.EntityID, event.Action, event.Actor,
		nullable(event.OldValue), nullable(event.NewValue), nullable(event.Detail), event.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "storage: log audit event")
	}

	event.ID, err = res.LastInsertId()
	return eris.Wrap(err, "storage: audit event id")
}

// ListAuditEvents returns events matching filter, newest first.
func (s *Storage) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, entity_type, entity_id, action, actor,
		       old_value, new_value, detail, created_at
		FROM audit_events
		WHERE 1 = 1`
	var args []any
	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, sqlLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list audit events")
	}
	defer rows.Close()

	events := []AuditEvent{}
	for rows.Next() {
		var (
			e                      AuditEvent
			oldVal, newVal, detail sql.NullString
		)
		err := rows.Scan(&e.ID, &e.EventType, &e.EntityType, &e.EntityID, &e.Action, &e.Actor,
			&oldVal, &newVal, &detail, &e.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "storage: scan audit event")
		}
		e.OldValue, e.NewValue, e.Detail = stringPtr(oldVal), stringPtr(newVal), stringPtr(detail)
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "storage: iterate audit events")
}

// =============================================================================
// Helpers
// =============================================================================

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// sqlLimit maps "no limit" to SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullable treats nil and empty strings as NULL.
func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
