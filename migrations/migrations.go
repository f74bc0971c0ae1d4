// Package migrations embeds the goose SQL migrations for the PostgreSQL
// state and receipt stores.
package migrations

import "embed"

// FS holds every migration at its root; pass "." as the goose directory.
//
//go:embed *.sql
var FS embed.FS
