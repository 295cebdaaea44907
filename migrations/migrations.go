// Package migrations embeds the SQL schema applied by pg.Migrate.
package migrations

import "embed"

// PostgresDir is the directory inside Postgres holding goose migrations.
const PostgresDir = "postgres"

//go:embed postgres/*.sql
var Postgres embed.FS
