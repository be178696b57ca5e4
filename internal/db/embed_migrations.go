package db

import "embed"

// MigrationFS embeds the schema for users, sessions and audit_logs.
// Applied by cmd/migrate through the migrate runner.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
