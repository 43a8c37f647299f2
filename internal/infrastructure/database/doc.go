// Package database provides SQLite connectivity for Mortal Core.
//
// This package manages:
//   - The connection (WAL mode, busy timeout, foreign keys on)
//   - Schema migrations applied with goose from an embedded filesystem
//   - Health checks and shutdown
//
// All queries in the repositories use parameterised statements. The
// database file is restricted to 0600.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
