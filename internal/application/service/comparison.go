package service

import (
	"context"

	"github.com/eshaffer321/commission-recon/internal/apperr"
	"github.com/eshaffer321/commission-recon/internal/domain/compare"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

const needTwoRuns = "Need at least 2 match runs to compare. Create another run first."

// CompareRuns diffs runA (older) against runB (newer). With both ids empty
// it compares the two most recent runs, and reports Available=false when
// fewer than two exist.
func (s *ReconService) CompareRuns(ctx context.Context, runA, runB string) (*Comparison, error) {
	older, newer, err := s.pickRuns(ctx, runA, runB)
	if err != nil {
		return nil, err
	}
	if older == nil {
		return &Comparison{Available: false, Message: needTwoRuns}, nil
	}

	a, err := s.verdicts(ctx, older.RunID)
	if err != nil {
		return nil, err
	}
	b, err := s.verdicts(ctx, newer.RunID)
	if err != nil {
		return nil, err
	}

	diff := compare.Compare(a, b)
	diff.Truncate(maxReportedChange)

	return &Comparison{
		Available: true,
		RunA:      older,
		RunB:      newer,
		Diff:      &diff,
	}, nil
}

func (s *ReconService) pickRuns(ctx context.Context, runA, runB string) (*storage.RunSummary, *storage.RunSummary, error) {
	switch {
	case runA == "" && runB == "":
		runs, err := s.storage.ListRuns(ctx, 2)
		if err != nil {
			return nil, nil, err
		}
		if len(runs) < 2 {
			return nil, nil, nil
		}
		return &runs[1], &runs[0], nil
	case runA == "" || runB == "":
		return nil, nil, apperr.InputMalformed("both run_a and run_b are required when either is given")
	case runA == runB:
		return nil, nil, apperr.InvalidState("cannot compare run %s with itself", runA)
	}

	older, err := s.mustGetRun(ctx, runA)
	if err != nil {
		return nil, nil, err
	}
	newer, err := s.mustGetRun(ctx, runB)
	if err != nil {
		return nil, nil, err
	}
	return older, newer, nil
}

func (s *ReconService) mustGetRun(ctx context.Context, runID string) (*storage.RunSummary, error) {
	run, err := s.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apperr.NotFound("match run %s not found", runID)
	}
	return run, nil
}

func (s *ReconService) verdicts(ctx context.Context, runID string) ([]compare.Verdict, error) {
	records, err := s.storage.GetRunResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]compare.Verdict, len(records))
	for i := range records {
		out[i] = records[i].Verdict()
	}
	return out, nil
}
