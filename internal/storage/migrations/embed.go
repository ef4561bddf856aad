// Package migrations embeds and applies the keeper's schema migrations.
package migrations

import "embed"

// PostgresFS embeds the PostgreSQL migration files (cycles and outcomes).
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the ClickHouse migration files (health observations).
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
