// Package migrations embeds the journal schema so the binary can migrate
// the database without SQL files on disk.
package migrations

import "embed"

// FS holds the migration files at its root; pass it to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
