package trace

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/common/models"
)

// SlogTracer writes spans as structured log lines. It is the default sink
// when observability is enabled without an external tracker.
type SlogTracer struct {
	log *logger.Logger
}

// NewSlog builds the logging tracer.
func NewSlog(log *logger.Logger) *SlogTracer {
	return &SlogTracer{log: log}
}

func (t *SlogTracer) StartWorkflow(ctx context.Context, e *models.Execution) (context.Context, Span) {
	t.log.Info("workflow started",
		"execution_id", e.ExecutionID.String(),
		"workflow", e.WorkflowName,
		"version", e.WorkflowVersion)
	return ctx, &slogSpan{
		log:   t.log.WithExecutionID(e.ExecutionID.String()),
		name:  "workflow " + e.WorkflowName,
		start: time.Now(),
	}
}

func (t *SlogTracer) StartNode(ctx context.Context, nodeID string, attrs map[string]any) (context.Context, Span) {
	log := t.log.WithNodeID(nodeID)
	args := make([]any, 0, len(attrs)*2)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	log.Debug("node started", args...)
	return ctx, &slogSpan{log: log, name: "node " + nodeID, start: time.Now()}
}

func (t *SlogTracer) LogCostSummary(_ context.Context, executionID uuid.UUID, totals Totals) {
	t.log.Info("cost summary",
		"execution_id", executionID.String(),
		"nodes", totals.Nodes,
		"prompt_tokens", totals.PromptTokens,
		"completion_tokens", totals.CompletionTokens,
		"cost_usd", totals.CostUSD)
}

type slogSpan struct {
	log   *logger.Logger
	name  string
	start time.Time
}

func (s *slogSpan) End(status string, m Metrics) {
	s.log.Info(s.name+" finished",
		"status", status,
		"duration_ms", m.DurationMS,
		"prompt_tokens", m.PromptTokens,
		"completion_tokens", m.CompletionTokens,
		"cost_usd", m.CostUSD,
		"elapsed", time.Since(s.start).String())
}
