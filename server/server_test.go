package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/graphflow/common/cache"
	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/engine"
	"github.com/lyzr/graphflow/llm"
	"github.com/lyzr/graphflow/store"
	"github.com/lyzr/graphflow/workflow"
)

const testDoc = `
schema_version: "1.0"
flow:
  name: brief
  version: "7"
state:
  fields:
    topic:
      type: str
      required: true
    article:
      type: str
nodes:
  - id: write
    prompt: "Write about {topic}"
    outputs: [article]
edges:
  - from: START
    to: write
  - from: write
    to: END
config:
  llm:
    provider: stub
    model: test-model
`

type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{
		Message: llm.Message{Role: llm.RoleAssistant, Content: `{"result": "an article"}`},
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.Open(context.Background(), workflow.StorageConfig{
		Backend: "sqlite",
		Path:    filepath.Join(t.TempDir(), "graphflow.db"),
	}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runner := engine.NewRunner(db, logger.Discard(),
		engine.WithProviderResolver(func(string, llm.Settings) (llm.Provider, error) {
			return stubProvider{}, nil
		}))
	workflows := cache.NewMemoryCache()
	t.Cleanup(func() { workflows.Close() })
	return New(db, runner, workflows, logger.Discard())
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestValidateWorkflow(t *testing.T) {
	s := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/workflows/validate", map[string]any{"workflow": testDoc})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])

	broken := strings.Replace(testDoc, "outputs: [article]", "outputs: [articel]", 1)
	rec, body = doJSON(t, s, http.MethodPost, "/api/v1/workflows/validate", map[string]any{"workflow": broken})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["valid"])
	errs, ok := body["errors"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, errs)

	rec, _ = doJSON(t, s, http.MethodPost, "/api/v1/workflows/validate", map[string]any{"workflow": "nodes: ["})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSubmitExecutionInline(t *testing.T) {
	s := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/executions", map[string]any{
		"workflow": testDoc,
		"inputs":   map[string]any{"topic": "servers"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "succeeded", body["status"])
	execID := body["execution_id"].(string)
	final := body["final_state"].(map[string]any)
	assert.Equal(t, "an article", final["article"])

	rec, body = doJSON(t, s, http.MethodGet, "/api/v1/executions/"+execID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "brief", body["workflow_name"])
	assert.Equal(t, "succeeded", body["status"])

	rec, body = doJSON(t, s, http.MethodGet, "/api/v1/executions/"+execID+"/states?replay=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	states := body["states"].([]any)
	require.Len(t, states, 1)
	snapshots := body["snapshots"].([]any)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "an article", snapshots[0].(map[string]any)["article"])
}

func TestSubmitExecutionByReference(t *testing.T) {
	s := newTestServer(t)

	// not yet cached
	rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/executions", map[string]any{
		"workflow_name":    "brief",
		"workflow_version": "7",
		"inputs":           map[string]any{"topic": "caching"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// inline submission caches the document by name/version
	rec, _ = doJSON(t, s, http.MethodPost, "/api/v1/executions", map[string]any{
		"workflow": testDoc,
		"inputs":   map[string]any{"topic": "caching"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/executions", map[string]any{
		"workflow_name":    "brief",
		"workflow_version": "7",
		"inputs":           map[string]any{"topic": "again"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "succeeded", body["status"])
}

func TestSubmitExecutionRejectsInvalid(t *testing.T) {
	s := newTestServer(t)
	broken := strings.Replace(testDoc, "outputs: [article]", "outputs: [articel]", 1)

	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/executions", map[string]any{
		"workflow": broken,
		"inputs":   map[string]any{"topic": "x"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, body["errors"])
}

func TestGetExecutionErrors(t *testing.T) {
	s := newTestServer(t)

	rec, _ := doJSON(t, s, http.MethodGet, "/api/v1/executions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, s, http.MethodGet, "/api/v1/executions/6b1f6f3a-3adf-4a6e-9d6e-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListExecutions(t *testing.T) {
	s := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/v1/executions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["executions"])

	_, _ = doJSON(t, s, http.MethodPost, "/api/v1/executions", map[string]any{
		"workflow": testDoc,
		"inputs":   map[string]any{"topic": "lists"},
	})
	rec, body = doJSON(t, s, http.MethodGet, "/api/v1/executions?workflow=brief", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["executions"], 1)

	rec, _ = doJSON(t, s, http.MethodGet, "/api/v1/executions?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a since bound in the future excludes everything
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	rec, body = doJSON(t, s, http.MethodGet, "/api/v1/executions?since="+future, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["executions"])

	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	rec, body = doJSON(t, s, http.MethodGet, "/api/v1/executions?since="+past, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["executions"], 1)

	rec, _ = doJSON(t, s, http.MethodGet, "/api/v1/executions?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeployments(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.RegisterDeployment(ctx, "edge-1", "brief", time.Minute))

	rec, body := doJSON(t, s, http.MethodGet, "/api/v1/deployments", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	items := body["deployments"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, true, item["alive"])

	rec, _ = doJSON(t, s, http.MethodPost, "/api/v1/deployments/edge-1/heartbeat", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = doJSON(t, s, http.MethodPost, "/api/v1/deployments/ghost/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
