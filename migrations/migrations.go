package migrations

import "embed"

// Files holds the ordered *.up.sql schema migrations.
//
//go:embed *.up.sql
var Files embed.FS
