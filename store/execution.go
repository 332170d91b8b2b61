package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/graphflow/common/models"
)

// ExecutionRepo handles database operations for executions.
type ExecutionRepo struct {
	db *DB
}

// NewExecutionRepo creates a new execution repository.
func NewExecutionRepo(db *DB) *ExecutionRepo {
	return &ExecutionRepo{db: db}
}

// Create inserts a new execution.
func (r *ExecutionRepo) Create(ctx context.Context, e *models.Execution) error {
	inputs, err := json.Marshal(e.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	query := r.db.rebind(`
		INSERT INTO execution (execution_id, workflow_name, workflow_version, status, inputs,
			prompt_tokens, completion_tokens, cost_usd, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`)
	return r.db.write(ctx, "create execution", func() error {
		_, err := r.db.ExecContext(ctx, query,
			e.ExecutionID.String(), e.WorkflowName, e.WorkflowVersion, string(e.Status), string(inputs),
			e.PromptTokens, e.CompletionTokens, e.CostUSD, e.StartedAt, e.CreatedAt,
		)
		return err
	})
}

// UpdateStatus moves an execution to a new lifecycle status.
func (r *ExecutionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ExecutionStatus) error {
	query := r.db.rebind(`UPDATE execution SET status = $2 WHERE execution_id = $1`)
	return r.db.write(ctx, "update execution status", func() error {
		_, err := r.db.ExecContext(ctx, query, id.String(), string(status))
		return err
	})
}

// Finish records the terminal status, final state, failure details, and
// aggregate usage.
func (r *ExecutionRepo) Finish(ctx context.Context, e *models.Execution) error {
	var finalState *string
	if e.FinalState != nil {
		raw, err := json.Marshal(e.FinalState)
		if err != nil {
			return fmt.Errorf("encode final state: %w", err)
		}
		s := string(raw)
		finalState = &s
	}
	query := r.db.rebind(`
		UPDATE execution
		SET status = $2, final_state = $3, failed_node_id = $4, failed_phase = $5, error = $6,
			prompt_tokens = $7, completion_tokens = $8, cost_usd = $9, finished_at = $10
		WHERE execution_id = $1
	`)
	return r.db.write(ctx, "finish execution", func() error {
		_, err := r.db.ExecContext(ctx, query,
			e.ExecutionID.String(), string(e.Status), finalState, e.FailedNodeID, e.FailedPhase, e.Error,
			e.PromptTokens, e.CompletionTokens, e.CostUSD, e.FinishedAt,
		)
		return err
	})
}

const executionColumns = `execution_id, workflow_name, workflow_version, status, inputs, final_state,
	failed_node_id, failed_phase, error, prompt_tokens, completion_tokens, cost_usd,
	started_at, finished_at, created_at`

// GetByID retrieves an execution.
func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	query := r.db.rebind(`SELECT ` + executionColumns + ` FROM execution WHERE execution_id = $1`)
	e, err := scanExecution(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// List retrieves recent executions, optionally filtered by workflow name
// and a started-at lower bound. A zero since applies no time filter.
func (r *ExecutionRepo) List(ctx context.Context, workflowName string, limit int, since time.Time) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM execution`
	var conds []string
	var args []any
	if workflowName != "" {
		args = append(args, workflowName)
		conds = append(conds, fmt.Sprintf("workflow_name = $%d", len(args)))
	}
	if !since.IsZero() {
		args = append(args, since)
		conds = append(conds, fmt.Sprintf("started_at >= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*models.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		e          models.Execution
		id         string
		status     string
		inputs     string
		finalState *string
	)
	err := row.Scan(
		&id, &e.WorkflowName, &e.WorkflowVersion, &status, &inputs, &finalState,
		&e.FailedNodeID, &e.FailedPhase, &e.Error, &e.PromptTokens, &e.CompletionTokens, &e.CostUSD,
		&e.StartedAt, &e.FinishedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.ExecutionID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse execution_id: %w", err)
	}
	e.Status = models.ExecutionStatus(status)
	if err := json.Unmarshal([]byte(inputs), &e.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if finalState != nil {
		if err := json.Unmarshal([]byte(*finalState), &e.FinalState); err != nil {
			return nil, fmt.Errorf("decode final state: %w", err)
		}
	}
	return &e, nil
}
