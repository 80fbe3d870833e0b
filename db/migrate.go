package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/convhub/convhub/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationsDir = "sqlite/migrations"

// Migrate brings the schema up to date by applying, in filename order, every
// embedded migration not yet recorded in schema_migrations. Migration 000
// bootstraps the bookkeeping table and records itself like any later step.
// A nil logger applies migrations silently.
func Migrate(conn *sql.DB, logger *zap.SugaredLogger) error {
	names, err := listMigrations()
	if err != nil {
		return err
	}

	for _, name := range names {
		version := strings.SplitN(name, "_", 2)[0]

		done, err := alreadyApplied(conn, version)
		if err != nil {
			return err
		}
		if done {
			if logger != nil {
				logger.Debugw("Migration already applied", "migration", name)
			}
			continue
		}

		if logger != nil {
			logger.Infow("Applying migration", "migration", name)
		}
		if err := applyMigration(conn, name, version); err != nil {
			return err
		}
	}

	if logger != nil {
		logger.Infow("Schema up to date", "migrations", len(names))
	}
	return nil
}

func listMigrations() ([]string, error) {
	entries, err := migrationFS.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read embedded migrations")
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// alreadyApplied reports whether version is recorded in schema_migrations.
// Before migration 000 runs the bookkeeping table itself does not exist;
// that only happens on a fresh database, where nothing is applied yet.
func alreadyApplied(conn *sql.DB, version string) (bool, error) {
	var exists bool
	err := conn.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version,
	).Scan(&exists)
	if err != nil {
		if version == "000" {
			return false, nil
		}
		return false, errors.Wrapf(err, "schema_migrations unreadable before migration %s", version)
	}
	return exists, nil
}

// applyMigration executes one migration file and records its version,
// atomically: a failed statement rolls the whole step back.
func applyMigration(conn *sql.DB, name, version string) error {
	stmts, err := migrationFS.ReadFile(path.Join(migrationsDir, name))
	if err != nil {
		return errors.Wrapf(err, "failed to read migration %s", name)
	}

	tx, err := conn.Begin()
	if err != nil {
		return errors.Wrapf(err, "failed to begin transaction for %s", name)
	}
	if _, err := tx.Exec(string(stmts)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "failed to execute %s", name)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "failed to record %s", name)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit %s", name)
	}
	return nil
}
