package storage

import (
	"context"
	"embed"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// runMigrations applies every pending migration under migrations/. goose
// tracks applied versions in goose_db_version, so reopening a database is a
// no-op.
func (s *Storage) runMigrations(ctx context.Context) error {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return eris.Wrap(err, "storage: open embedded migrations")
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return eris.Wrap(err, "storage: create migration provider")
	}

	if _, err := provider.Up(ctx); err != nil {
		return eris.Wrap(err, "storage: apply migrations")
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Storage) SchemaVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_id), 0) FROM goose_db_version WHERE is_applied = 1`,
	).Scan(&version)
	if err != nil {
		return 0, eris.Wrap(err, "storage: read schema version")
	}
	return version, nil
}
