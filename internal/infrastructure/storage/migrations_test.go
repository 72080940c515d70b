package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expectedSchemaVersion is the highest migration version under migrations/.
// Update this when adding new migrations
const expectedSchemaVersion = 2

// TestMigrations_FreshDatabase tests running migrations on a fresh database
func TestMigrations_FreshDatabase(t *testing.T) {
	tmpDB := createTempDB(t)
	defer os.Remove(tmpDB)

	// Create storage (this runs migrations)
	store, err := NewStorage(tmpDB)
	require.NoError(t, err)
	defer store.Close()

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(expectedSchemaVersion), version)
}

// TestMigrations_Idempotency tests that reopening a database applies nothing twice
func TestMigrations_Idempotency(t *testing.T) {
	tmpDB := createTempDB(t)
	defer os.Remove(tmpDB)

	store, err := NewStorage(tmpDB)
	require.NoError(t, err)
	store.Close()

	store, err = NewStorage(tmpDB)
	require.NoError(t, err)
	defer store.Close()

	var applied int
	err = store.db.QueryRow("SELECT COUNT(*) FROM goose_db_version WHERE version_id > 0 AND is_applied = 1").Scan(&applied)
	require.NoError(t, err)
	assert.Equal(t, expectedSchemaVersion, applied, "each migration should be recorded exactly once")
}

// TestMigrations_Schema tests that the correct schema is created
func TestMigrations_Schema(t *testing.T) {
	tmpDB := createTempDB(t)
	defer os.Remove(tmpDB)

	store, err := NewStorage(tmpDB)
	require.NoError(t, err)
	defer store.Close()

	for _, table := range []string{
		"match_runs", "match_results", "exceptions", "policy_rules", "audit_events", "goose_db_version",
	} {
		err = store.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(new(int))
		assert.NoError(t, err, "%s table should exist", table)
	}
}

// TestMigrations_ForeignKeyConstraints tests that foreign keys are enforced
func TestMigrations_ForeignKeyConstraints(t *testing.T) {
	tmpDB := createTempDB(t)
	defer os.Remove(tmpDB)

	store, err := NewStorage(tmpDB)
	require.NoError(t, err)
	defer store.Close()

	var fkEnabled int
	err = store.db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled)
	require.NoError(t, err)
	assert.Equal(t, 1, fkEnabled, "Foreign keys should be enabled")

	// A result cannot exist without its run
	_, err = store.db.Exec(`
		INSERT INTO match_results (run_id, line_id, policy_number, confidence, status, reason)
		VALUES ('run-missing', 'L-1', 'POL-1', 0.5, 'unmatched', '')
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FOREIGN KEY constraint failed")

	// Status values are constrained
	_, err = store.db.Exec(`INSERT INTO match_runs (run_id, created_at) VALUES ('run-1', '2026-01-01T00:00:00.000000Z')`)
	require.NoError(t, err)
	_, err = store.db.Exec(`
		INSERT INTO match_results (run_id, line_id, policy_number, confidence, status, reason)
		VALUES ('run-1', 'L-1', 'POL-1', 0.5, 'bogus', '')
	`)
	assert.Error(t, err)
}

// TestMigrations_CascadeDelete tests that a run owns its results and exceptions
func TestMigrations_CascadeDelete(t *testing.T) {
	tmpDB := createTempDB(t)
	defer os.Remove(tmpDB)

	store, err := NewStorage(tmpDB)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.SaveRun(ctx, "run-1", sampleResults())
	require.NoError(t, err)

	_, err = store.db.Exec(`DELETE FROM match_runs WHERE run_id = 'run-1'`)
	require.NoError(t, err)

	var results, exceptions int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM match_results`).Scan(&results))
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM exceptions`).Scan(&exceptions))
	assert.Zero(t, results)
	assert.Zero(t, exceptions)
}

// Helper function to create a temporary database file
func createTempDB(t *testing.T) string {
	tmpFile, err := os.CreateTemp("", "test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}
