// Package migrations embeds the SQL schema for the migration runner.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
