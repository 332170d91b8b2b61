package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/common/models"
	"github.com/lyzr/graphflow/llm"
	"github.com/lyzr/graphflow/store"
	"github.com/lyzr/graphflow/workflow"
)

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	cfg := workflow.StorageConfig{
		Backend: "sqlite",
		Path:    filepath.Join(t.TempDir(), "graphflow.db"),
	}
	db, err := store.Open(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustLoadDoc(t *testing.T, doc string) *workflow.Config {
	t.Helper()
	cfg, err := workflow.Load([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func TestRunnerPersistsSuccessfulRun(t *testing.T) {
	db := openTestStore(t)
	p := &stubProvider{respond: func(llm.Request) (*llm.Response, error) {
		return jsonResp(`{"result": "done"}`)
	}}
	runner := NewRunner(db, logger.Discard(), WithProviderResolver(staticResolver(p)))

	res, err := runner.Run(context.Background(), mustLoadDoc(t, linearDoc), map[string]any{"topic": "storage"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSucceeded, res.Status)
	assert.Equal(t, "done", res.FinalState["article"])
	assert.Equal(t, 1, res.Totals.Nodes)
	assert.Equal(t, 10, res.Totals.PromptTokens)
	assert.Equal(t, 5, res.Totals.CompletionTokens)

	exec, err := store.NewExecutionRepo(db).GetByID(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, exec.Status)
	assert.Equal(t, "brief", exec.WorkflowName)
	assert.Equal(t, "storage", exec.Inputs["topic"])
	assert.Equal(t, "done", exec.FinalState["article"])
	assert.Equal(t, 10, exec.PromptTokens)
	require.NotNil(t, exec.FinishedAt)

	states, err := store.NewExecutionStateRepo(db).ListByExecution(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "write", states[0].NodeID)
	assert.Equal(t, models.NodeSucceeded, states[0].Status)
	assert.Equal(t, store.SnapshotFull, states[0].SnapshotKind)
}

func TestRunnerPersistsLoopIterations(t *testing.T) {
	db := openTestStore(t)
	p := &stubProvider{respond: func(req llm.Request) (*llm.Response, error) {
		if strings.HasPrefix(lastUser(req), "Draft") {
			return jsonResp(`{"result": "a draft"}`)
		}
		return jsonResp(`{"score": 0.1}`)
	}}
	runner := NewRunner(db, logger.Discard(), WithProviderResolver(staticResolver(p)))

	res, err := runner.Run(context.Background(), mustLoadDoc(t, loopDoc), map[string]any{"topic": "loops"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, res.Status)
	assert.Equal(t, 6, res.Totals.Nodes)
	assert.Equal(t, 60, res.Totals.PromptTokens)

	states, err := store.NewExecutionStateRepo(db).ListByExecution(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	require.Len(t, states, 6)

	// write/judge pairs, with the write iteration advancing each lap
	var writeIters []int
	for i, s := range states {
		assert.Equal(t, i, s.Seq)
		if s.NodeID == "write" {
			writeIters = append(writeIters, s.Iteration)
		} else {
			assert.Equal(t, 0, s.Iteration)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, writeIters)

	// standard artifact level: first snapshot full, the rest patches
	assert.Equal(t, store.SnapshotFull, states[0].SnapshotKind)
	for _, s := range states[1:] {
		assert.Equal(t, store.SnapshotPatch, s.SnapshotKind)
	}

	snapshots, err := store.ReplaySnapshots(states)
	require.NoError(t, err)
	assert.Equal(t, "a draft", snapshots[len(snapshots)-1]["draft"])
}

func TestRunnerRecordsFailure(t *testing.T) {
	db := openTestStore(t)
	p := &stubProvider{respond: func(llm.Request) (*llm.Response, error) {
		return nil, llm.NewFatalError(errors.New("quota exhausted"))
	}}
	runner := NewRunner(db, logger.Discard(), WithProviderResolver(staticResolver(p)))

	res, err := runner.Run(context.Background(), mustLoadDoc(t, linearDoc), map[string]any{"topic": "doom"})
	require.Error(t, err)
	var nodeErr *NodeExecutionError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, models.StatusFailed, res.Status)

	exec, getErr := store.NewExecutionRepo(db).GetByID(context.Background(), res.ExecutionID)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusFailed, exec.Status)
	require.NotNil(t, exec.FailedNodeID)
	assert.Equal(t, "write", *exec.FailedNodeID)
	require.NotNil(t, exec.FailedPhase)
	assert.Equal(t, "provider", *exec.FailedPhase)
	require.NotNil(t, exec.Error)
	assert.Contains(t, *exec.Error, "quota exhausted")
}

func TestRunnerRejectsInvalidWorkflow(t *testing.T) {
	doc := strings.Replace(linearDoc, "outputs: [article]", "outputs: [articel]", 1)
	runner := NewRunner(nil, logger.Discard())

	res, err := runner.Run(context.Background(), mustLoadDoc(t, doc), map[string]any{"topic": "x"})
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Nil(t, res)
}

func TestRunnerCancelledRun(t *testing.T) {
	db := openTestStore(t)
	p := &stubProvider{respond: func(llm.Request) (*llm.Response, error) {
		return jsonResp(`{"result": "never"}`)
	}}
	runner := NewRunner(db, logger.Discard(), WithProviderResolver(staticResolver(p)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := runner.Run(ctx, mustLoadDoc(t, linearDoc), map[string]any{"topic": "halt"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StatusCancelled, res.Status)

	exec, getErr := store.NewExecutionRepo(db).GetByID(context.Background(), res.ExecutionID)
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusCancelled, exec.Status)
}

func TestRunnerWithoutStore(t *testing.T) {
	p := &stubProvider{respond: func(llm.Request) (*llm.Response, error) {
		return jsonResp(`{"result": "ephemeral"}`)
	}}
	runner := NewRunner(nil, logger.Discard(), WithProviderResolver(staticResolver(p)))

	res, err := runner.Run(context.Background(), mustLoadDoc(t, linearDoc), map[string]any{"topic": "memory"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, res.Status)
	assert.Equal(t, "ephemeral", res.FinalState["article"])
}
