// Package server exposes the runtime over HTTP: run submission, execution
// and node-state inspection, workflow validation, and deployment liveness.
package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/graphflow/common/cache"
	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/common/models"
	"github.com/lyzr/graphflow/engine"
	"github.com/lyzr/graphflow/store"
)

// workflowCacheTTL bounds how long a submitted document is runnable by
// name/version reference.
const workflowCacheTTL = time.Hour

// Server wires the runner and repositories behind the REST API.
type Server struct {
	db          *store.DB
	runner      *engine.Runner
	executions  *store.ExecutionRepo
	states      *store.ExecutionStateRepo
	deployments *store.DeploymentRepo
	workflows   cache.Cache
	log         *logger.Logger
}

// New builds a server. workflows caches submitted documents per
// name/version so later runs can reference them instead of re-posting.
func New(db *store.DB, runner *engine.Runner, workflows cache.Cache, log *logger.Logger) *Server {
	return &Server{
		db:          db,
		runner:      runner,
		executions:  store.NewExecutionRepo(db),
		states:      store.NewExecutionStateRepo(db),
		deployments: store.NewDeploymentRepo(db),
		workflows:   workflows,
		log:         log,
	}
}

// Router builds the echo handler tree.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(s.requestLogger)

	e.GET("/health", s.Health)

	api := e.Group("/api/v1")
	api.POST("/workflows/validate", s.ValidateWorkflow)
	api.POST("/executions", s.SubmitExecution)
	api.GET("/executions", s.ListExecutions)
	api.GET("/executions/:id", s.GetExecution)
	api.GET("/executions/:id/states", s.ListExecutionStates)
	api.GET("/deployments", s.ListDeployments)
	api.POST("/deployments/:name/heartbeat", s.HeartbeatDeployment)
	return e
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.log.Info("request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}
}

// RegisterDeployment upserts this server as a named deployment and
// heartbeats until ctx ends. A dead heartbeat is visible to operators via
// the deployment TTL; it never affects request serving.
func (s *Server) RegisterDeployment(ctx context.Context, name, workflowName string, ttl time.Duration) error {
	now := time.Now().UTC()
	d := &models.Deployment{
		DeploymentID:  uuid.New(),
		Name:          name,
		WorkflowName:  workflowName,
		LastHeartbeat: now,
		TTLSeconds:    int(ttl / time.Second),
		CreatedAt:     now,
	}
	if err := s.deployments.Upsert(ctx, d); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.deployments.Heartbeat(ctx, name, time.Now().UTC()); err != nil {
					s.log.Warn("deployment heartbeat failed", "deployment", name, "error", err)
				}
			}
		}
	}()
	return nil
}
