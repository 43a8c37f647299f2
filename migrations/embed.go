// Package migrations embeds the goose SQL migrations into the binary.
package migrations

import "embed"

// FS holds every migration file at its root. Pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
