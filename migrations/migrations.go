// Package migrations embeds the report store schema migrations so the
// service binaries can apply them without a migrations directory on disk.
package migrations

import "embed"

// FS holds the golang-migrate SQL files.
//
//go:embed *.sql
var FS embed.FS
