package store

import (
	"context"
	"fmt"
)

// The schema is written in the portable subset both sqlite and postgres
// accept: TEXT keys, TEXT-encoded JSON, TIMESTAMP columns.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS execution (
		execution_id TEXT PRIMARY KEY,
		workflow_name TEXT NOT NULL,
		workflow_version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		inputs TEXT NOT NULL DEFAULT '{}',
		final_state TEXT,
		failed_node_id TEXT,
		failed_phase TEXT,
		error TEXT,
		prompt_tokens BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_execution_workflow
		ON execution (workflow_name, created_at)`,
	`CREATE TABLE IF NOT EXISTS execution_state (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		seq BIGINT NOT NULL,
		iteration BIGINT NOT NULL DEFAULT 0,
		branch_index BIGINT,
		status TEXT NOT NULL,
		error TEXT,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		prompt_tokens BIGINT NOT NULL DEFAULT 0,
		completion_tokens BIGINT NOT NULL DEFAULT 0,
		cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		snapshot TEXT,
		snapshot_kind TEXT NOT NULL DEFAULT 'none',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_execution_state_execution
		ON execution_state (execution_id, seq)`,
	`CREATE TABLE IF NOT EXISTS deployment (
		deployment_id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		workflow_name TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		last_heartbeat TIMESTAMP NOT NULL,
		ttl_seconds BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
}

func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
