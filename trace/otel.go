package trace

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/lyzr/graphflow/common/models"
)

// OTelTracer emits spans through the global OpenTelemetry provider. With
// no provider installed the spans are no-ops, which keeps the sink
// fail-open by construction.
type OTelTracer struct {
	tracer oteltrace.Tracer
}

// NewOTel builds the OpenTelemetry tracer.
func NewOTel(name string) *OTelTracer {
	if name == "" {
		name = "graphflow"
	}
	return &OTelTracer{tracer: otel.Tracer(name)}
}

func (t *OTelTracer) StartWorkflow(ctx context.Context, e *models.Execution) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, "workflow "+e.WorkflowName,
		oteltrace.WithAttributes(
			attribute.String("execution_id", e.ExecutionID.String()),
			attribute.String("workflow", e.WorkflowName),
			attribute.String("version", e.WorkflowVersion),
		))
	return ctx, &otelSpan{span: span}
}

func (t *OTelTracer) StartNode(ctx context.Context, nodeID string, attrs map[string]any) (context.Context, Span) {
	kvs := make([]attribute.KeyValue, 0, len(attrs)+1)
	kvs = append(kvs, attribute.String("node_id", nodeID))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, fmt.Sprint(v)))
	}
	ctx, span := t.tracer.Start(ctx, "node "+nodeID, oteltrace.WithAttributes(kvs...))
	return ctx, &otelSpan{span: span}
}

func (t *OTelTracer) LogCostSummary(ctx context.Context, executionID uuid.UUID, totals Totals) {
	span := oteltrace.SpanFromContext(ctx)
	span.AddEvent("cost summary", oteltrace.WithAttributes(
		attribute.String("execution_id", executionID.String()),
		attribute.Int("nodes", totals.Nodes),
		attribute.Int("prompt_tokens", totals.PromptTokens),
		attribute.Int("completion_tokens", totals.CompletionTokens),
		attribute.Float64("cost_usd", totals.CostUSD),
	))
}

type otelSpan struct {
	span oteltrace.Span
}

func (s *otelSpan) End(status string, m Metrics) {
	s.span.SetAttributes(
		attribute.Int64("duration_ms", m.DurationMS),
		attribute.Int("prompt_tokens", m.PromptTokens),
		attribute.Int("completion_tokens", m.CompletionTokens),
		attribute.Float64("cost_usd", m.CostUSD),
	)
	if status == string(models.StatusFailed) || status == string(models.NodeFailed) {
		s.span.SetStatus(codes.Error, status)
	} else {
		s.span.SetStatus(codes.Ok, status)
	}
	s.span.End()
}
