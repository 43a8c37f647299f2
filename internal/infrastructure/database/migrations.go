package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/nerrad567/mortal-core/internal/infrastructure/logging"
)

// goose keeps its base filesystem and dialect in package globals.
var gooseMu sync.Mutex

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies every pending migration found at the root of fsys.
//
// Migrations are goose SQL files (NNNNN_name.sql with -- +goose Up/Down
// sections). goose records applied versions in goose_db_version and runs
// each migration in its own transaction.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - fsys: Filesystem holding the migration files (normally migrations.FS)
//
// Returns:
//   - error: If any migration fails
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := db.prepareGoose(fsys); err != nil {
		return err
	}

	if err := gooseUpContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
// Used in development and tests.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := db.prepareGoose(fsys); err != nil {
		return err
	}

	if err := goose.DownContext(ctx, db.DB, "."); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	return nil
}

// SchemaVersion returns the latest applied migration version (0 when none).
func (db *DB) SchemaVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("setting goose dialect: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func (db *DB) prepareGoose(fsys fs.FS) error {
	goose.SetBaseFS(fsys)
	goose.SetLogger(gooseLogger{log: db.logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return nil
}

// gooseLogger routes goose progress output into the structured logger.
type gooseLogger struct {
	log *logging.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Debug(fmt.Sprintf(format, v...), "component", "migrations")
}

// Fatalf is only reached from goose's CLI paths. It logs instead of exiting.
func (g gooseLogger) Fatalf(format string, v ...any) {
	g.log.Error(fmt.Sprintf(format, v...), "component", "migrations")
}
