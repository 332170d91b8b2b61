package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/common/models"
	"github.com/lyzr/graphflow/workflow"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := workflow.StorageConfig{
		Backend: "sqlite",
		Path:    filepath.Join(t.TempDir(), "test.db"),
	}
	db, err := Open(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExecutionLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewExecutionRepo(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	exec := &models.Execution{
		ExecutionID:     uuid.New(),
		WorkflowName:    "article-review",
		WorkflowVersion: "2",
		Status:          models.StatusQueued,
		Inputs:          map[string]any{"topic": "dogs"},
		StartedAt:       now,
		CreatedAt:       now,
	}
	require.NoError(t, repo.Create(ctx, exec))
	require.NoError(t, repo.UpdateStatus(ctx, exec.ExecutionID, models.StatusRunning))

	finished := now.Add(3 * time.Second)
	exec.Status = models.StatusSucceeded
	exec.FinalState = map[string]any{"topic": "dogs", "article": "A1"}
	exec.PromptTokens = 120
	exec.CompletionTokens = 80
	exec.CostUSD = 0.0012
	exec.FinishedAt = &finished
	require.NoError(t, repo.Finish(ctx, exec))

	got, err := repo.GetByID(ctx, exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, got.Status)
	assert.Equal(t, map[string]any{"topic": "dogs"}, got.Inputs)
	assert.Equal(t, "A1", got.FinalState["article"])
	assert.Equal(t, 120, got.PromptTokens)
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.Error)
}

func TestExecutionFailureFields(t *testing.T) {
	db := openTestDB(t)
	repo := NewExecutionRepo(db)
	ctx := context.Background()

	now := time.Now().UTC()
	exec := &models.Execution{
		ExecutionID:  uuid.New(),
		WorkflowName: "broken",
		Status:       models.StatusRunning,
		Inputs:       map[string]any{},
		StartedAt:    now,
		CreatedAt:    now,
	}
	require.NoError(t, repo.Create(ctx, exec))

	node, phase, msg := "judge", "provider", "rate limited after 3 attempts"
	exec.Status = models.StatusFailed
	exec.FailedNodeID = &node
	exec.FailedPhase = &phase
	exec.Error = &msg
	finished := now.Add(time.Second)
	exec.FinishedAt = &finished
	require.NoError(t, repo.Finish(ctx, exec))

	got, err := repo.GetByID(ctx, exec.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.FailedPhase)
	assert.Equal(t, "provider", *got.FailedPhase)
}

func TestExecutionGetMissing(t *testing.T) {
	db := openTestDB(t)
	repo := NewExecutionRepo(db)

	_, err := repo.GetByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExecutionList(t *testing.T) {
	db := openTestDB(t)
	repo := NewExecutionRepo(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		name := "wf-a"
		if i == 2 {
			name = "wf-b"
		}
		require.NoError(t, repo.Create(ctx, &models.Execution{
			ExecutionID:  uuid.New(),
			WorkflowName: name,
			Status:       models.StatusQueued,
			Inputs:       map[string]any{},
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := repo.List(ctx, "", 10, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyA, err := repo.List(ctx, "wf-a", 10, time.Time{})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	// since filters on started_at; only the last row started after +90s
	recent, err := repo.List(ctx, "", 10, base.Add(90*time.Second))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "wf-b", recent[0].WorkflowName)

	none, err := repo.List(ctx, "wf-a", 10, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExecutionStates(t *testing.T) {
	db := openTestDB(t)
	execRepo := NewExecutionRepo(db)
	stateRepo := NewExecutionStateRepo(db)
	ctx := context.Background()

	now := time.Now().UTC()
	execID := uuid.New()
	require.NoError(t, execRepo.Create(ctx, &models.Execution{
		ExecutionID: execID, WorkflowName: "wf", Status: models.StatusRunning,
		Inputs: map[string]any{}, StartedAt: now, CreatedAt: now,
	}))

	branch := 1
	records := []*models.ExecutionState{
		{ID: uuid.New(), ExecutionID: execID, NodeID: "write", Seq: 1, Status: models.NodeSucceeded,
			DurationMS: 900, PromptTokens: 50, CompletionTokens: 30, CreatedAt: now},
		{ID: uuid.New(), ExecutionID: execID, NodeID: "expand", Seq: 2, BranchIndex: &branch,
			Status: models.NodeSucceeded, CreatedAt: now},
	}
	for _, s := range records {
		require.NoError(t, stateRepo.Create(ctx, s))
	}

	got, err := stateRepo.ListByExecution(ctx, execID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "write", got[0].NodeID)
	assert.Nil(t, got[0].BranchIndex)
	require.NotNil(t, got[1].BranchIndex)
	assert.Equal(t, 1, *got[1].BranchIndex)
}

func TestDeploymentUpsertAndHeartbeat(t *testing.T) {
	db := openTestDB(t)
	repo := NewDeploymentRepo(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	dep := &models.Deployment{
		DeploymentID:  uuid.New(),
		Name:          "prod-review",
		WorkflowName:  "article-review",
		Metadata:      map[string]any{"host": "api-1"},
		LastHeartbeat: now,
		TTLSeconds:    60,
		CreatedAt:     now,
	}
	require.NoError(t, repo.Upsert(ctx, dep))

	// upsert by name keeps a single row
	dep.Metadata = map[string]any{"host": "api-2"}
	require.NoError(t, repo.Upsert(ctx, dep))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "api-2", all[0].Metadata["host"])

	later := now.Add(30 * time.Second)
	require.NoError(t, repo.Heartbeat(ctx, "prod-review", later))
	got, err := repo.GetByName(ctx, "prod-review")
	require.NoError(t, err)
	assert.True(t, got.Alive(later.Add(59*time.Second)))
	assert.False(t, got.Alive(later.Add(2*time.Minute)))
}

func TestSnapshotCodecStandard(t *testing.T) {
	codec := NewSnapshotCodec("standard")

	first, kind, err := codec.Encode(map[string]any{"topic": "dogs", "article": ""})
	require.NoError(t, err)
	assert.Equal(t, SnapshotFull, kind)
	assert.NotEmpty(t, first)

	second, kind, err := codec.Encode(map[string]any{"topic": "dogs", "article": "A1"})
	require.NoError(t, err)
	assert.Equal(t, SnapshotPatch, kind)
	// the patch carries only the changed field
	assert.JSONEq(t, `{"article":"A1"}`, string(second))

	states := []*models.ExecutionState{
		{Seq: 1, Snapshot: first, SnapshotKind: SnapshotFull},
		{Seq: 2, Snapshot: second, SnapshotKind: SnapshotPatch},
	}
	replayed, err := ReplaySnapshots(states)
	require.NoError(t, err)
	assert.Equal(t, "", replayed[0]["article"])
	assert.Equal(t, "A1", replayed[1]["article"])
}

func TestSnapshotCodecLevels(t *testing.T) {
	minimal := NewSnapshotCodec("minimal")
	raw, kind, err := minimal.Encode(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, SnapshotNone, kind)
	assert.Nil(t, raw)

	full := NewSnapshotCodec("full")
	for i := 0; i < 2; i++ {
		_, kind, err = full.Encode(map[string]any{"a": i})
		require.NoError(t, err)
		assert.Equal(t, SnapshotFull, kind)
	}
}

func TestRebind(t *testing.T) {
	db := openTestDB(t)
	assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?",
		db.rebind("SELECT * FROM t WHERE a = $1 AND b = $12"))
}
