// Package ingest loads carrier statement lines and bank cash transactions
// from CSV exports and rejects malformed rows before they reach the matcher.
//
// Statement CSV columns:
//
//	carrier_name, statement_id, line_id, policy_number, insured_name,
//	effective_date, txn_date, written_premium, gross_commission, txn_type
//
// Bank CSV columns:
//
//	bank_txn_id, posted_date, amount, counterparty, memo, reference
//
// Dates are ISO (YYYY-MM-DD); amounts are signed decimals.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/eshaffer321/commission-recon/internal/apperr"
	"github.com/eshaffer321/commission-recon/internal/domain/matcher"
)

const dateLayout = "2006-01-02"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report CSV column names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("csv"), ",", 2)[0]
	})
	return v
}

type statementRow struct {
	CarrierName     string `csv:"carrier_name"`
	StatementID     string `csv:"statement_id"`
	LineID          string `csv:"line_id" validate:"required"`
	PolicyNumber    string `csv:"policy_number"`
	InsuredName     string `csv:"insured_name"`
	EffectiveDate   string `csv:"effective_date" validate:"omitempty,datetime=2006-01-02"`
	TxnDate         string `csv:"txn_date" validate:"required,datetime=2006-01-02"`
	WrittenPremium  string `csv:"written_premium" validate:"omitempty,numeric"`
	GrossCommission string `csv:"gross_commission" validate:"required,numeric"`
	TxnType         string `csv:"txn_type" validate:"required,oneof=new renewal endorsement cancellation reinstatement clawback override"`
}

type bankRow struct {
	BankTxnID    string `csv:"bank_txn_id" validate:"required"`
	PostedDate   string `csv:"posted_date" validate:"required,datetime=2006-01-02"`
	Amount       string `csv:"amount" validate:"required,numeric"`
	Counterparty string `csv:"counterparty"`
	Memo         string `csv:"memo"`
	Reference    string `csv:"reference"`
}

// Dataset is one snapshot of statement lines and cash transactions.
type Dataset struct {
	Lines        []matcher.StatementLine
	Transactions []matcher.CashTransaction
}

// Line looks up a statement line by id.
func (d *Dataset) Line(lineID string) (matcher.StatementLine, bool) {
	for _, l := range d.Lines {
		if l.LineID == lineID {
			return l, true
		}
	}
	return matcher.StatementLine{}, false
}

// Transaction looks up a cash transaction by id.
func (d *Dataset) Transaction(bankTxnID string) (matcher.CashTransaction, bool) {
	for _, t := range d.Transactions {
		if t.BankTxnID == bankTxnID {
			return t, true
		}
	}
	return matcher.CashTransaction{}, false
}

// Source provides the dataset for a matching run.
type Source interface {
	Load(ctx context.Context) (*Dataset, error)
}

// CSVSource reads the dataset from two CSV files. A missing file is an empty
// dataset, not an error.
type CSVSource struct {
	StatementPath string
	BankPath      string
}

// NewCSVSource creates a source over the given statement and bank files.
func NewCSVSource(statementPath, bankPath string) *CSVSource {
	return &CSVSource{StatementPath: statementPath, BankPath: bankPath}
}

// Load reads and validates both files.
func (s *CSVSource) Load(ctx context.Context) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines, err := readFile(s.StatementPath, ReadStatementLines)
	if err != nil {
		return nil, err
	}
	txns, err := readFile(s.BankPath, ReadCashTransactions)
	if err != nil {
		return nil, err
	}

	return &Dataset{Lines: lines, Transactions: txns}, nil
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close()

	rows, err := read(f)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			ae.Message = path + ": " + ae.Message
			return nil, ae
		}
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	return rows, nil
}

// ReadStatementLines decodes statement CSV rows. Duplicate line ids,
// unparseable dates or amounts, unknown transaction types and missing columns
// are InputMalformed.
func ReadStatementLines(r io.Reader) ([]matcher.StatementLine, error) {
	lines := []matcher.StatementLine{}
	seen := make(map[string]bool)

	err := decodeRows(r, func(n int, row *statementRow) error {
		if seen[row.LineID] {
			return apperr.InputMalformed("row %d: duplicate line_id %s", n, row.LineID)
		}
		seen[row.LineID] = true

		line := matcher.StatementLine{
			LineID:       row.LineID,
			StatementID:  row.StatementID,
			PolicyNumber: row.PolicyNumber,
			InsuredName:  row.InsuredName,
			CarrierName:  row.CarrierName,
			TxnType:      matcher.TxnType(row.TxnType),
		}

		var err error
		if line.TxnDate, err = time.Parse(dateLayout, row.TxnDate); err != nil {
			return malformed(n, "txn_date", err)
		}
		if row.EffectiveDate != "" {
			if line.EffectiveDate, err = time.Parse(dateLayout, row.EffectiveDate); err != nil {
				return malformed(n, "effective_date", err)
			}
		}
		if line.GrossCommission, err = decimal.NewFromString(row.GrossCommission); err != nil {
			return malformed(n, "gross_commission", err)
		}
		if row.WrittenPremium != "" {
			if line.WrittenPremium, err = decimal.NewFromString(row.WrittenPremium); err != nil {
				return malformed(n, "written_premium", err)
			}
		}

		lines = append(lines, line)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// ReadCashTransactions decodes bank feed CSV rows with the same validation
// rules as ReadStatementLines.
func ReadCashTransactions(r io.Reader) ([]matcher.CashTransaction, error) {
	txns := []matcher.CashTransaction{}
	seen := make(map[string]bool)

	err := decodeRows(r, func(n int, row *bankRow) error {
		if seen[row.BankTxnID] {
			return apperr.InputMalformed("row %d: duplicate bank_txn_id %s", n, row.BankTxnID)
		}
		seen[row.BankTxnID] = true

		txn := matcher.CashTransaction{
			BankTxnID:    row.BankTxnID,
			Counterparty: row.Counterparty,
			Memo:         row.Memo,
			Reference:    row.Reference,
		}

		var err error
		if txn.PostedDate, err = time.Parse(dateLayout, row.PostedDate); err != nil {
			return malformed(n, "posted_date", err)
		}
		if txn.Amount, err = decimal.NewFromString(row.Amount); err != nil {
			return malformed(n, "amount", err)
		}

		txns = append(txns, txn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// decodeRows validates each row and hands it to fn with its 1-based data row
// number. An empty input yields no rows.
func decodeRows[T any](r io.Reader, fn func(n int, row *T) error) error {
	csvr := csv.NewReader(r)
	csvr.TrimLeadingSpace = true

	dec, err := csvutil.NewDecoder(csvr)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return apperr.InputMalformed("unreadable header").WithCause(err)
	}
	dec.DisallowMissingColumns = true

	for n := 1; ; n++ {
		var row T
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return apperr.InputMalformed("row %d: %v", n, err).WithCause(err)
		}
		if err := validate.Struct(&row); err != nil {
			return validationError(n, err)
		}
		if err := fn(n, &row); err != nil {
			return err
		}
	}
}

func validationError(n int, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return apperr.InputMalformed("row %d: %s %q fails %s=%s", n, fe.Field(), fe.Value(), fe.Tag(), fe.Param())
		}
		return apperr.InputMalformed("row %d: %s %q fails %s", n, fe.Field(), fe.Value(), fe.Tag())
	}
	return apperr.InputMalformed("row %d: %v", n, err).WithCause(err)
}

func malformed(n int, field string, err error) error {
	return apperr.InputMalformed("row %d: invalid %s", n, field).WithCause(err)
}
