package migrations

import "embed"

// FS holds one migration directory per database driver.
//
//go:embed sqlite3/*.sql postgres/*.sql
var FS embed.FS
