package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/commission-recon/internal/application/service"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/storage"
)

const statementCSV = `carrier_name,statement_id,line_id,policy_number,insured_name,effective_date,txn_date,written_premium,gross_commission,txn_type
Acme Mutual,S-1,L-1,POL-100,Alice Smith,2026-01-01,2026-01-09,1200.00,120.00,new
Beacon Life,S-1,L-2,POL-200,Bob Jones,2026-01-01,2026-01-11,2000.00,200.00,renewal
Cedar Group,S-2,L-3,POL-3X9,Cara Diaz,2026-01-01,2026-01-20,750.00,75.00,endorsement
`

const bankCSV = `bank_txn_id,posted_date,amount,counterparty,memo,reference
TX-1,2026-01-10,120.00,Acme Mutual,Commission POL-100,R1
TX-2,2026-01-12,205.00,Other Co,Payment POL-200,R2
TX-3,2026-02-25,75.00,Zeta,POL-309,R3
`

// setupEnv points the CLI at fresh CSV fixtures and a temp database.
func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	stmt := filepath.Join(dir, "statement_lines.csv")
	bank := filepath.Join(dir, "bank_feed.csv")
	require.NoError(t, os.WriteFile(stmt, []byte(statementCSV), 0o644))
	require.NoError(t, os.WriteFile(bank, []byte(bankCSV), 0o644))

	t.Setenv("RECON_STATEMENT_PATH", stmt)
	t.Setenv("RECON_BANK_PATH", bank)
	t.Setenv("RECON_DB_PATH", filepath.Join(dir, "recon.db"))
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Run(context.Background(), args, &out)
	return out.String(), err
}

func TestCLI_MatchPreviewAndRun(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "match", "preview")
	require.NoError(t, err)
	assert.Contains(t, out, "Auto-matched: 1 | Needs review: 1 | Unmatched: 1")
	assert.Contains(t, out, "LINE")
	assert.Contains(t, out, "L-2")

	out, err = run(t, "runs", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "run-", "preview must not persist")

	out, err = run(t, "--json", "match", "run")
	require.NoError(t, err)
	var created service.RunCreated
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, 1, created.StoredCounts.NeedsReview)

	out, err = run(t, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, created.RunID)
}

func TestCLI_ExceptionWorkflow(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "match", "run")
	require.NoError(t, err)

	out, err := run(t, "exceptions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "L-2")
	assert.Contains(t, out, "TX-2")

	_, err = run(t, "exceptions", "resolve", "L-2")
	require.Error(t, err, "--action is required")

	out, err = run(t, "exceptions", "resolve", "L-2", "--action", "accept_suggestion", "--note", "checked remittance")
	require.NoError(t, err)
	assert.Contains(t, out, "Resolved L-2")

	_, err = run(t, "exceptions", "resolve", "L-2", "--action", "accept_suggestion")
	require.Error(t, err)
	assert.Contains(t, describe(err), "no open exception")

	out, err = run(t, "--json", "exceptions", "list", "--status", "resolved")
	require.NoError(t, err)
	var list storage.ExceptionList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list.Exceptions, 1)
	assert.Equal(t, "accept_suggestion", *list.Exceptions[0].ResolutionAction)

	out, err = run(t, "audit", "--entity-type", "line")
	require.NoError(t, err)
	assert.Contains(t, out, "exception_resolved")
	assert.Contains(t, out, "checked remittance")
}

func TestCLI_RulesAndCompare(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "runs", "compare")
	require.NoError(t, err)
	assert.Contains(t, out, "Need at least 2 match runs")

	_, err = run(t, "match", "run")
	require.NoError(t, err)

	out, err = run(t, "rules", "upsert", "POL-3X9", "POL-309", "--note", "carrier typo")
	require.NoError(t, err)
	assert.Contains(t, out, "POL-3X9 -> POL-309")

	out, err = run(t, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "carrier typo")

	_, err = run(t, "match", "run")
	require.NoError(t, err)

	out, err = run(t, "runs", "compare")
	require.NoError(t, err)
	assert.Contains(t, out, "Changes: 1 | Improved: 0 | Regressed: 0")
	assert.Contains(t, out, "unmatched → needs_review: 1")
	assert.Contains(t, out, "L-3")

	out, err = run(t, "exceptions", "sweep", "--count", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Auto-resolved 2 exception(s)")

	out, err = run(t, "lines", "show", "L-3")
	require.NoError(t, err)
	assert.Contains(t, out, "Policy in Memo")
	assert.Contains(t, out, "background_recon")
}

func TestCLI_Errors(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "results", "--status", "bogus")
	require.Error(t, err)
	assert.Contains(t, describe(err), "invalid status filter")

	_, err = run(t, "lines", "show", "L-404")
	require.Error(t, err)
	assert.Contains(t, describe(err), "L-404")

	_, err = run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "runs", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestFormatResults_NoRun(t *testing.T) {
	var buf bytes.Buffer
	formatResults(&buf, &service.ResultPage{})
	assert.Contains(t, buf.String(), "No match run found")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Map A → B...", truncate("Map A → B → C → D", 12))
}
