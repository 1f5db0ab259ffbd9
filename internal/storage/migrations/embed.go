package migrations

import "embed"

// PostgresFS embeds the PostgreSQL schema for agents, positions, trades and
// signal performance.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the ClickHouse schema for agent logs.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
