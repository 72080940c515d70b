package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eshaffer321/commission-recon/internal/apperr"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

// ListExceptions returns latest-run exceptions. An empty status means open.
func (s *ReconService) ListExceptions(ctx context.Context, status string, limit int) (*storage.ExceptionList, error) {
	filter := storage.ExceptionFilter{
		Status: storage.ExceptionOpen,
		Limit:  orDefault(limit, DefaultExceptionLimit),
	}
	if status != "" {
		filter.Status = storage.ExceptionStatus(status)
		if !filter.Status.Valid() {
			return nil, apperr.InputMalformed("invalid exception status %q", status)
		}
	}
	return s.storage.ListExceptions(ctx, filter)
}

// ResolveException closes an open exception on behalf of an analyst.
func (s *ReconService) ResolveException(ctx context.Context, req ResolveRequest) (*storage.ExceptionRecord, error) {
	req.LineID = strings.TrimSpace(req.LineID)
	req.Action = strings.TrimSpace(req.Action)
	if req.LineID == "" {
		return nil, apperr.InputMalformed("line_id is required")
	}
	if req.Action == "" {
		return nil, apperr.InputMalformed("action is required")
	}

	rec, err := s.resolve(ctx, req, ActorAnalyst)
	if err != nil {
		return nil, err
	}

	detail := req.Note
	if detail != nil && *detail == "" {
		detail = nil
	}
	s.audit(ctx, &storage.AuditEvent{
		EventType:  "exception_resolved",
		EntityType: "line",
		EntityID:   req.LineID,
		Action:     req.Action,
		Actor:      ActorAnalyst,
		OldValue:   ptr(string(storage.ExceptionOpen)),
		NewValue:   ptr(string(storage.ExceptionResolved)),
		Detail:     detail,
	})
	return rec, nil
}

func (s *ReconService) resolve(ctx context.Context, req ResolveRequest, actor string) (*storage.ExceptionRecord, error) {
	rec, err := s.storage.ResolveException(ctx, storage.ResolveParams{
		RunID:     req.RunID,
		LineID:    req.LineID,
		Action:    req.Action,
		BankTxnID: req.BankTxnID,
		Note:      req.Note,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("exception resolved",
		"run_id", rec.RunID,
		"line_id", rec.LineID,
		"action", req.Action,
		"actor", actor,
	)
	return rec, nil
}

// Sweep auto-resolves the count highest-confidence open exceptions of the
// latest run, accepting each suggested transaction. A line resolved by
// someone else mid-sweep, or superseded by a newer run, is skipped.
func (s *ReconService) Sweep(ctx context.Context, count int) (*SweepResult, error) {
	count = orDefault(count, DefaultSweepCount)

	list, err := s.storage.ListExceptions(ctx, storage.ExceptionFilter{
		Status: storage.ExceptionOpen,
		Limit:  count,
	})
	if err != nil {
		return nil, err
	}
	if list.RunID == "" {
		return &SweepResult{Resolved: []string{}, Message: "No match run found"}, nil
	}

	result := &SweepResult{RunID: list.RunID, Resolved: []string{}}
	for _, exc := range list.Exceptions {
		pct := fmt.Sprintf("%.1f%%", exc.Confidence*100)
		_, err := s.resolve(ctx, ResolveRequest{
			RunID:     list.RunID,
			LineID:    exc.LineID,
			Action:    ActionAutoResolved,
			BankTxnID: exc.SuggestedBankTxnID,
			Note:      ptr(fmt.Sprintf("Background reconciliation (confidence: %s)", pct)),
		}, ActorSystem)
		if apperr.Is(err, apperr.KindNotFound) {
			s.logger.Debug("exception already resolved, skipping", "line_id", exc.LineID)
			continue
		}
		if err != nil {
			return result, err
		}

		s.audit(ctx, &storage.AuditEvent{
			EventType:  "background_recon",
			EntityType: "line",
			EntityID:   exc.LineID,
			Action:     ActionAutoResolved,
			Actor:      ActorSystem,
			OldValue:   ptr(string(storage.ExceptionOpen)),
			NewValue:   ptr(string(storage.ExceptionResolved)),
			Detail:     ptr(fmt.Sprintf("Auto-resolved at %s confidence", pct)),
		})
		result.Resolved = append(result.Resolved, exc.LineID)
	}

	result.Message = fmt.Sprintf("Auto-resolved %d exception(s)", len(result.Resolved))
	return result, nil
}

// StartBackgroundSweep starts a goroutine that runs Sweep every interval.
// Call StopBackgroundSweep to stop it.
func (s *ReconService) StartBackgroundSweep(interval time.Duration, count int) {
	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.Info("background sweep started",
			"interval", interval,
			"count", orDefault(count, DefaultSweepCount),
		)

		for {
			select {
			case <-s.sweepStop:
				s.logger.Info("background sweep stopped")
				return
			case <-ticker.C:
				result, err := s.Sweep(context.Background(), count)
				if err != nil {
					s.logger.Error("background sweep failed", "error", err)
					continue
				}
				if len(result.Resolved) > 0 {
					s.logger.Info("background sweep resolved exceptions",
						"run_id", result.RunID,
						"count", len(result.Resolved),
					)
				}
			}
		}
	}()
}

// StopBackgroundSweep stops the sweep goroutine and blocks until it exits.
func (s *ReconService) StopBackgroundSweep() {
	if s.sweepStop == nil {
		return
	}

	close(s.sweepStop)
	<-s.sweepDone
	s.sweepStop = nil
}
