package migrations

import "embed"

// Files exposes embedded SQL migration files, one directory per document backend.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
