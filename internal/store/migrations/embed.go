package migrations

import "embed"

// Files contains the event-log schema migrations in golang-migrate naming.
//
//go:embed *.sql
var Files embed.FS
