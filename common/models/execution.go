package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus tracks the run lifecycle.
type ExecutionStatus string

const (
	StatusQueued    ExecutionStatus = "queued"
	StatusRunning   ExecutionStatus = "running"
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Execution is one workflow run.
// Maps to: execution table
type Execution struct {
	// Unique execution ID (UUID v4)
	ExecutionID uuid.UUID `db:"execution_id" json:"execution_id"`

	WorkflowName    string `db:"workflow_name" json:"workflow_name"`
	WorkflowVersion string `db:"workflow_version" json:"workflow_version"`

	// Transitions exactly: queued -> running -> (succeeded | failed | cancelled)
	Status ExecutionStatus `db:"status" json:"status"`

	// Caller-supplied initial inputs (JSON)
	Inputs map[string]any `db:"inputs" json:"inputs"`

	// Final visible state snapshot (JSON); set on terminal transition
	FinalState map[string]any `db:"final_state" json:"final_state,omitempty"`

	// Failure details (failed runs only)
	FailedNodeID *string `db:"failed_node_id" json:"failed_node_id,omitempty"`
	FailedPhase  *string `db:"failed_phase" json:"failed_phase,omitempty"`
	Error        *string `db:"error" json:"error,omitempty"`

	// Aggregate usage across all node executions
	PromptTokens     int     `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int     `db:"completion_tokens" json:"completion_tokens"`
	CostUSD          float64 `db:"cost_usd" json:"cost_usd"`

	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// NodeStatus tracks a single node execution.
type NodeStatus string

const (
	NodeSucceeded NodeStatus = "succeeded"
	NodeFailed    NodeStatus = "failed"
)

// ExecutionState is one node-boundary record within an execution.
// Maps to: execution_state table
type ExecutionState struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ExecutionID uuid.UUID `db:"execution_id" json:"execution_id"`
	NodeID      string    `db:"node_id" json:"node_id"`

	// Seq orders records within an execution, across loops and branches
	Seq int `db:"seq" json:"seq"`

	// Loop iteration (0 outside loops)
	Iteration int `db:"iteration" json:"iteration"`

	// Parallel branch index (nil outside parallel sections)
	BranchIndex *int `db:"branch_index" json:"branch_index,omitempty"`

	Status NodeStatus `db:"status" json:"status"`
	Error  *string    `db:"error" json:"error,omitempty"`

	DurationMS       int64   `db:"duration_ms" json:"duration_ms"`
	PromptTokens     int     `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int     `db:"completion_tokens" json:"completion_tokens"`
	CostUSD          float64 `db:"cost_usd" json:"cost_usd"`

	// Snapshot of visible state after the node, encoded per the
	// configured artifact level (full JSON, merge patch, or empty)
	Snapshot     []byte `db:"snapshot" json:"snapshot,omitempty"`
	SnapshotKind string `db:"snapshot_kind" json:"snapshot_kind"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
