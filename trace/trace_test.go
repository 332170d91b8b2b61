package trace

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/common/models"
	"github.com/lyzr/graphflow/workflow"
)

func TestNewSelectsSink(t *testing.T) {
	log := logger.Discard()

	assert.IsType(t, Noop{}, New(workflow.ObservabilityConfig{}, log))
	assert.IsType(t, &SlogTracer{}, New(workflow.ObservabilityConfig{Enabled: true}, log))
	assert.IsType(t, &OTelTracer{}, New(workflow.ObservabilityConfig{Enabled: true, TrackingURI: "http://otel:4318"}, log))
}

// Sinks must be callable end to end without any backend configured.
func TestSinksFailOpen(t *testing.T) {
	exec := &models.Execution{ExecutionID: uuid.New(), WorkflowName: "wf"}
	for _, tr := range []Tracer{Noop{}, NewSlog(logger.Discard()), NewOTel("")} {
		ctx, span := tr.StartWorkflow(context.Background(), exec)
		require.NotNil(t, ctx)
		nodeCtx, nodeSpan := tr.StartNode(ctx, "write", map[string]any{"iteration": 1})
		nodeSpan.End("succeeded", Metrics{DurationMS: 12, PromptTokens: 10})
		tr.LogCostSummary(nodeCtx, exec.ExecutionID, Totals{Nodes: 1, CostUSD: 0.01})
		span.End("succeeded", Metrics{})
	}
}
