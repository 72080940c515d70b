package service

import (
	"context"

	"github.com/eshaffer321/commission-recon/internal/apperr"
	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

const dateLayout = "2006-01-02"

// LineDetail collects the statement line, its latest-run verdict, the
// exception, the matched bank transaction and the line's audit trail.
func (s *ReconService) LineDetail(ctx context.Context, lineID string) (*LineDetail, error) {
	data, err := s.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	line, ok := data.Line(lineID)
	if !ok {
		return nil, apperr.NotFound("statement line %s not found", lineID)
	}

	detail := &LineDetail{
		Statement:    statementView(line),
		ScoreFactors: []ScoreFactor{},
	}

	rec, err := s.storage.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		result := rec.Result
		detail.RunID = rec.RunID
		detail.MatchResult = &result
		detail.Exception = rec.Exception
		detail.ScoreFactors = scoreFactors(result.Reasons())

		if result.MatchedBankTxnID != nil {
			if txn, ok := data.Transaction(*result.MatchedBankTxnID); ok {
				view := bankView(txn)
				detail.BankTransaction = &view
			}
		}
	}

	detail.AuditEvents, err = s.storage.ListAuditEvents(ctx, storage.AuditFilter{
		EntityType: "line",
		EntityID:   lineID,
		Limit:      lineAuditLimit,
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func scoreFactors(reasons matcher.Reasons) []ScoreFactor {
	factors := make([]ScoreFactor, 0, len(reasons))
	for _, tag := range reasons {
		factors = append(factors, ScoreFactor{
			Key:    tag,
			Label:  tag.Label(),
			Weight: tag.Weight(),
		})
	}
	return factors
}

func statementView(l matcher.StatementLine) StatementView {
	return StatementView{
		LineID:          l.LineID,
		StatementID:     l.StatementID,
		PolicyNumber:    l.PolicyNumber,
		InsuredName:     l.InsuredName,
		CarrierName:     l.CarrierName,
		EffectiveDate:   l.EffectiveDate.Format(dateLayout),
		TxnDate:         l.TxnDate.Format(dateLayout),
		WrittenPremium:  l.WrittenPremium.StringFixed(2),
		GrossCommission: l.GrossCommission.StringFixed(2),
		TxnType:         l.TxnType,
	}
}

func bankView(t matcher.CashTransaction) BankTransactionView {
	return BankTransactionView{
		BankTxnID:    t.BankTxnID,
		PostedDate:   t.PostedDate.Format(dateLayout),
		Amount:       t.Amount.StringFixed(2),
		Counterparty: t.Counterparty,
		Memo:         t.Memo,
		Reference:    t.Reference,
	}
}
