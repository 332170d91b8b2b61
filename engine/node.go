package engine

import (
	"context"
	"errors"
	"time"

	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/llm"
	"github.com/lyzr/graphflow/state"
	"github.com/lyzr/graphflow/template"
	"github.com/lyzr/graphflow/workflow"
)

// executor runs one node: resolve inputs, resolve prompts, call the
// provider (with tools), validate the structured output into a delta.
type executor struct {
	cfg      workflow.NodeConfig
	output   *state.OutputModel
	client   *llm.Client
	params   llm.Params
	toolDefs []llm.ToolDefinition
	log      *logger.Logger
}

// nodeMetrics summarizes one node execution for hooks and tracing.
type nodeMetrics struct {
	Duration   time.Duration
	Usage      llm.Usage
	Cost       float64
	ToolRounds int
}

// run never mutates st; the caller applies the returned delta.
func (e *executor) run(ctx context.Context, st *state.State) (state.Delta, nodeMetrics, error) {
	var metrics nodeMetrics
	start := time.Now()
	defer func() { metrics.Duration = time.Since(start) }()

	snapshot := st.Snapshot()

	inputs := make(map[string]any, len(e.cfg.Inputs))
	for _, in := range e.cfg.Inputs {
		v, err := template.Resolve(in.Template, snapshot)
		if err != nil {
			return nil, metrics, nodeErr(e.cfg.ID, PhaseInputMapping, err)
		}
		inputs[in.Name] = v
	}

	// node inputs shadow state fields of the same name
	vars := make(map[string]any, len(snapshot)+len(inputs))
	for k, v := range snapshot {
		vars[k] = v
	}
	for k, v := range inputs {
		vars[k] = v
	}

	prompt, err := template.Resolve(e.cfg.Prompt, vars)
	if err != nil {
		return nil, metrics, nodeErr(e.cfg.ID, templatePhase(err), err)
	}
	var messages []llm.Message
	if e.cfg.SystemPrompt != "" {
		system, err := template.Resolve(e.cfg.SystemPrompt, vars)
		if err != nil {
			return nil, metrics, nodeErr(e.cfg.ID, templatePhase(err), err)
		}
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	if e.cfg.LogPayloads {
		e.log.Debug("node prompt", "node_id", e.cfg.ID, "prompt", prompt)
	}

	res, err := e.client.Call(ctx, messages, &llm.Output{
		Schema: e.output.Shape().JSONSchema(),
		Check:  e.checkOutput,
	}, e.toolDefs, e.params)
	if err != nil {
		return nil, metrics, nodeErr(e.cfg.ID, callPhase(err), err)
	}
	metrics.Usage = res.Usage
	metrics.Cost = res.Cost
	metrics.ToolRounds = res.ToolRounds

	if e.cfg.LogPayloads {
		e.log.Debug("node response", "node_id", e.cfg.ID, "output", res.Output)
	}

	delta, err := e.output.Parse(res.Output)
	if err != nil {
		return nil, metrics, nodeErr(e.cfg.ID, PhaseOutputValidation, err)
	}
	return delta, metrics, nil
}

// checkOutput runs the node's output validation inside the façade, so a
// well-formed reply with the wrong shape earns the strict reprompt too.
func (e *executor) checkOutput(raw map[string]any) error {
	_, err := e.output.Parse(raw)
	return err
}

// templatePhase classifies a prompt-resolution failure. A missing variable
// is a data problem (an optional field never written), so it belongs to
// input mapping; anything else is a template defect.
func templatePhase(err error) Phase {
	var missing *template.MissingVarError
	if errors.As(err, &missing) {
		return PhaseInputMapping
	}
	return PhasePrompt
}

// callPhase classifies a façade failure into the node failure taxonomy.
func callPhase(err error) Phase {
	var toolErr *llm.ToolError
	if errors.As(err, &toolErr) {
		return PhaseTool
	}
	if errors.Is(err, llm.ErrMalformedOutput) {
		return PhaseOutputValidation
	}
	return PhaseProvider
}
