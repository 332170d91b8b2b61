// Package trace is the observability seam. The engine emits workflow and
// node spans plus a cost summary against the Tracer interface; sinks are
// fail-open, so a broken or absent tracer never affects execution.
package trace

import (
	"context"

	"github.com/google/uuid"

	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/common/models"
	"github.com/lyzr/graphflow/workflow"
)

// Metrics accompany a span end.
type Metrics struct {
	DurationMS       int64
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Totals is the run-level cost summary.
type Totals struct {
	Nodes            int
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// Span is a live workflow or node span.
type Span interface {
	End(status string, m Metrics)
}

// Tracer receives execution events. Implementations must never block
// workflow progress and must swallow their own failures.
type Tracer interface {
	StartWorkflow(ctx context.Context, e *models.Execution) (context.Context, Span)
	StartNode(ctx context.Context, nodeID string, attrs map[string]any) (context.Context, Span)
	LogCostSummary(ctx context.Context, executionID uuid.UUID, totals Totals)
}

// New selects a tracer from config: disabled → noop, a tracking URI →
// OpenTelemetry, otherwise structured logs.
func New(cfg workflow.ObservabilityConfig, log *logger.Logger) Tracer {
	if !cfg.Enabled {
		return Noop{}
	}
	if cfg.TrackingURI != "" {
		return NewOTel(cfg.ExperimentName)
	}
	return NewSlog(log)
}

// Noop discards all events.
type Noop struct{}

func (Noop) StartWorkflow(ctx context.Context, _ *models.Execution) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (Noop) StartNode(ctx context.Context, _ string, _ map[string]any) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (Noop) LogCostSummary(context.Context, uuid.UUID, Totals) {}

type noopSpan struct{}

func (noopSpan) End(string, Metrics) {}
