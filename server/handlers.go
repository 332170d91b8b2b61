package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/graphflow/common/models"
	"github.com/lyzr/graphflow/engine"
	"github.com/lyzr/graphflow/store"
	"github.com/lyzr/graphflow/tools"
	"github.com/lyzr/graphflow/workflow"
)

type runRequest struct {
	// Workflow is an inline YAML/JSON document. Alternatively reference a
	// previously submitted document by name and version.
	Workflow        string         `json:"workflow,omitempty"`
	WorkflowName    string         `json:"workflow_name,omitempty"`
	WorkflowVersion string         `json:"workflow_version,omitempty"`
	Inputs          map[string]any `json:"inputs"`
}

type runResponse struct {
	ExecutionID string         `json:"execution_id"`
	Status      string         `json:"status"`
	FinalState  map[string]any `json:"final_state,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	Nodes       int            `json:"nodes"`
	CostUSD     float64        `json:"cost_usd"`
}

type validateRequest struct {
	Workflow string `json:"workflow"`
}

type validateResponse struct {
	Valid    bool                       `json:"valid"`
	Errors   []workflow.ValidationError `json:"errors,omitempty"`
	Warnings []string                   `json:"warnings,omitempty"`
}

// Health reports process and database liveness.
// GET /health
func (s *Server) Health(c echo.Context) error {
	if err := s.db.Health(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "healthy"})
}

// ValidateWorkflow lints a workflow document without running it.
// POST /api/v1/workflows/validate
func (s *Server) ValidateWorkflow(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Workflow == "" {
		return badRequest(c, "workflow document is required")
	}

	cfg, err := workflow.Load([]byte(req.Workflow))
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"valid": false,
			"error": err.Error(),
		})
	}

	resp := validateResponse{Valid: true, Warnings: cfg.Warnings}
	if err := workflow.Validate(cfg, tools.DefaultRegistry().Names()); err != nil {
		var verrs workflow.ValidationErrors
		if errors.As(err, &verrs) {
			resp.Valid = false
			resp.Errors = verrs
		} else {
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"valid": false,
				"error": err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// SubmitExecution runs a workflow synchronously and returns the outcome.
// POST /api/v1/executions
func (s *Server) SubmitExecution(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	cfg, err := s.resolveWorkflow(c, req)
	if err != nil {
		return err // already an HTTP response
	}

	res, runErr := s.runner.Run(c.Request().Context(), cfg, req.Inputs)
	if runErr != nil {
		var cfgErr *engine.ConfigError
		if errors.As(runErr, &cfgErr) {
			var verrs workflow.ValidationErrors
			if errors.As(runErr, &verrs) {
				return c.JSON(http.StatusUnprocessableEntity, map[string]any{
					"error":  "workflow validation failed",
					"errors": verrs,
				})
			}
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"error": runErr.Error(),
			})
		}
	}

	resp := runResponse{
		ExecutionID: res.ExecutionID.String(),
		Status:      string(res.Status),
		FinalState:  res.FinalState,
		DurationMS:  res.Duration.Milliseconds(),
		Nodes:       res.Totals.Nodes,
		CostUSD:     res.Totals.CostUSD,
	}
	if runErr != nil {
		resp.Error = runErr.Error()
	}
	return c.JSON(http.StatusCreated, resp)
}

// resolveWorkflow loads an inline document (caching it by name/version) or
// fetches a previously submitted one from the cache.
func (s *Server) resolveWorkflow(c echo.Context, req runRequest) (*workflow.Config, error) {
	ctx := c.Request().Context()

	if req.Workflow != "" {
		cfg, err := workflow.Load([]byte(req.Workflow))
		if err != nil {
			return nil, c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		}
		if err := s.workflows.Set(ctx, cfg.CacheKey(), []byte(req.Workflow), workflowCacheTTL); err != nil {
			s.log.Warn("workflow not cached", "key", cfg.CacheKey(), "error", err)
		}
		return cfg, nil
	}

	if req.WorkflowName == "" {
		return nil, badRequest(c, "either workflow or workflow_name is required")
	}
	version := req.WorkflowVersion
	if version == "" {
		version = "0"
	}
	key := fmt.Sprintf("workflow:%s:%s", req.WorkflowName, version)
	raw, ok, err := s.workflows.Get(ctx, key)
	if err != nil {
		return nil, c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
	if !ok {
		return nil, c.JSON(http.StatusNotFound, map[string]any{
			"error": fmt.Sprintf("workflow %s version %s is not cached; submit the document inline", req.WorkflowName, version),
		})
	}
	cfg, err := workflow.Load(raw)
	if err != nil {
		return nil, c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
	}
	return cfg, nil
}

// GetExecution retrieves one execution.
// GET /api/v1/executions/:id
func (s *Server) GetExecution(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "execution id must be a UUID")
	}
	exec, err := s.executions.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "execution not found")
		}
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}

// ListExecutions lists recent executions, optionally filtered by workflow
// and start time.
// GET /api/v1/executions?workflow=name&limit=50&since=2026-08-24T00:00:00Z
func (s *Server) ListExecutions(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}
	var since time.Time
	if raw := c.QueryParam("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "since must be an RFC3339 timestamp")
		}
		since = ts
	}
	execs, err := s.executions.List(c.Request().Context(), c.QueryParam("workflow"), limit, since)
	if err != nil {
		return internalError(c, err)
	}
	if execs == nil {
		execs = []*models.Execution{}
	}
	return c.JSON(http.StatusOK, map[string]any{"executions": execs})
}

// ListExecutionStates returns the node-boundary records of an execution,
// with full snapshots replayed from stored patches when ?replay=true.
// GET /api/v1/executions/:id/states
func (s *Server) ListExecutionStates(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "execution id must be a UUID")
	}
	states, err := s.states.ListByExecution(c.Request().Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	resp := map[string]any{"states": states}
	if c.QueryParam("replay") == "true" {
		snapshots, err := store.ReplaySnapshots(states)
		if err != nil {
			return internalError(c, err)
		}
		resp["snapshots"] = snapshots
	}
	return c.JSON(http.StatusOK, resp)
}

// ListDeployments lists registered deployments with their liveness.
// GET /api/v1/deployments
func (s *Server) ListDeployments(c echo.Context) error {
	deployments, err := s.deployments.List(c.Request().Context())
	if err != nil {
		return internalError(c, err)
	}
	now := time.Now().UTC()
	items := make([]map[string]any, 0, len(deployments))
	for _, d := range deployments {
		items = append(items, map[string]any{
			"deployment": d,
			"alive":      d.Alive(now),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"deployments": items})
}

// HeartbeatDeployment refreshes a deployment's liveness timestamp.
// POST /api/v1/deployments/:name/heartbeat
func (s *Server) HeartbeatDeployment(c echo.Context) error {
	name := c.Param("name")
	ctx := c.Request().Context()
	if _, err := s.deployments.GetByName(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "deployment not found")
		}
		return internalError(c, err)
	}
	if err := s.deployments.Heartbeat(ctx, name, time.Now().UTC()); err != nil {
		return internalError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]any{"error": msg})
}

func notFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, map[string]any{"error": msg})
}

func internalError(c echo.Context, err error) error {
	return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
}
