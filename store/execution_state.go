package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lyzr/graphflow/common/models"
)

// ExecutionStateRepo handles database operations for per-node records.
type ExecutionStateRepo struct {
	db *DB
}

// NewExecutionStateRepo creates a new execution-state repository.
func NewExecutionStateRepo(db *DB) *ExecutionStateRepo {
	return &ExecutionStateRepo{db: db}
}

// Create inserts one node-boundary record.
func (r *ExecutionStateRepo) Create(ctx context.Context, s *models.ExecutionState) error {
	var snapshot *string
	if len(s.Snapshot) > 0 {
		str := string(s.Snapshot)
		snapshot = &str
	}
	query := r.db.rebind(`
		INSERT INTO execution_state (id, execution_id, node_id, seq, iteration, branch_index,
			status, error, duration_ms, prompt_tokens, completion_tokens, cost_usd,
			snapshot, snapshot_kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`)
	return r.db.write(ctx, "create execution state", func() error {
		_, err := r.db.ExecContext(ctx, query,
			s.ID.String(), s.ExecutionID.String(), s.NodeID, s.Seq, s.Iteration, s.BranchIndex,
			string(s.Status), s.Error, s.DurationMS, s.PromptTokens, s.CompletionTokens, s.CostUSD,
			snapshot, s.SnapshotKind, s.CreatedAt,
		)
		return err
	})
}

// ListByExecution retrieves all node records for an execution, in order.
func (r *ExecutionStateRepo) ListByExecution(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionState, error) {
	query := r.db.rebind(`
		SELECT id, execution_id, node_id, seq, iteration, branch_index,
			status, error, duration_ms, prompt_tokens, completion_tokens, cost_usd,
			snapshot, snapshot_kind, created_at
		FROM execution_state
		WHERE execution_id = $1
		ORDER BY seq ASC
	`)
	rows, err := r.db.QueryContext(ctx, query, executionID.String())
	if err != nil {
		return nil, fmt.Errorf("list execution states: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionState
	for rows.Next() {
		var (
			s        models.ExecutionState
			id       string
			execID   string
			status   string
			snapshot *string
		)
		err := rows.Scan(
			&id, &execID, &s.NodeID, &s.Seq, &s.Iteration, &s.BranchIndex,
			&status, &s.Error, &s.DurationMS, &s.PromptTokens, &s.CompletionTokens, &s.CostUSD,
			&snapshot, &s.SnapshotKind, &s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan execution state: %w", err)
		}
		if s.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse state id: %w", err)
		}
		if s.ExecutionID, err = uuid.Parse(execID); err != nil {
			return nil, fmt.Errorf("parse execution_id: %w", err)
		}
		s.Status = models.NodeStatus(status)
		if snapshot != nil {
			s.Snapshot = []byte(*snapshot)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution states: %w", err)
	}
	return out, nil
}
