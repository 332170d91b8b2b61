package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/condition"
	"github.com/lyzr/graphflow/llm"
	"github.com/lyzr/graphflow/schema"
	"github.com/lyzr/graphflow/state"
	"github.com/lyzr/graphflow/tools"
	"github.com/lyzr/graphflow/workflow"
)

// branchIndexField is the hidden state field carrying the parallel branch
// index inside branch-local states.
const branchIndexField = "__branch_index"

// loopCounterPrefix prefixes the hidden per-target iteration counters.
const loopCounterPrefix = "__iter_"

const defaultParallelLimit = 8

// NodeResult is delivered to the hook at every node boundary, including
// failures and parallel branches.
type NodeResult struct {
	NodeID      string
	Iteration   int
	BranchIndex *int
	Err         error
	Duration    time.Duration
	Usage       llm.Usage
	Cost        float64
	ToolRounds  int

	// State is the post-apply state; nil on failure and for parallel
	// branches (branch deltas only join at fan-in).
	State *state.State
}

// Hook observes node boundaries. It may be called from branch goroutines;
// the graph serializes calls.
type Hook func(ctx context.Context, r NodeResult)

// ProviderResolver builds providers by name; tests substitute stubs.
type ProviderResolver func(name string, settings llm.Settings) (llm.Provider, error)

// Options configures Build.
type Options struct {
	Registry    *tools.Registry
	Log         *logger.Logger
	Hook        Hook
	NewProvider ProviderResolver
}

// Graph is an executable workflow. Build is pure; a graph may be invoked
// repeatedly with different initial states.
type Graph struct {
	cfg          *workflow.Config
	schema       *state.Schema
	nodes        map[string]*executor
	plans        map[string]*edgePlan
	loopCounters map[string]string // loop target → hidden counter field

	log      *logger.Logger
	hook     Hook
	hookMu   sync.Mutex
	limit    int
	failFast bool
}

type edgePlan struct {
	loop      *loopPlan
	routes    []routePlan
	defaultTo string
	parallel  *parallelPlan
	to        string
}

type loopPlan struct {
	to      string
	counter string
	max     int
	cond    *condition.Expr
}

type routePlan struct {
	cond *condition.Expr
	to   string
}

type parallelPlan struct {
	to      string
	items   string
	collect string
	each    string
}

// Build compiles a validated config into an executable graph.
func Build(cfg *workflow.Config, opts Options) (*Graph, error) {
	if opts.Registry == nil {
		opts.Registry = tools.DefaultRegistry()
	}
	if opts.NewProvider == nil {
		opts.NewProvider = llm.NewProvider
	}
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}

	g := &Graph{
		cfg:          cfg,
		nodes:        make(map[string]*executor, len(cfg.Nodes)),
		plans:        map[string]*edgePlan{},
		loopCounters: map[string]string{},
		log:          opts.Log,
		hook:         opts.Hook,
		limit:        cfg.Settings.Execution.ParallelMaxConcurrency,
		failFast:     cfg.Settings.Execution.ParallelFailurePolicy != workflow.CollectErrors,
	}

	if err := g.buildSchema(); err != nil {
		return nil, err
	}
	if err := g.buildPlans(); err != nil {
		return nil, err
	}
	if err := g.buildExecutors(opts); err != nil {
		return nil, err
	}
	return g, nil
}

// NewState constructs the initial run state from caller inputs.
func (g *Graph) NewState(inputs map[string]any) (*state.State, error) {
	return g.schema.Make(inputs)
}

// buildSchema extends the declared state with hidden engine fields: one
// iteration counter per loop target, plus the branch index when any
// parallel edge exists.
func (g *Graph) buildSchema() error {
	base, err := g.cfg.StateSchema()
	if err != nil {
		return &ConfigError{Err: err}
	}

	var hidden []state.FieldSpec
	haveParallel := false
	for _, e := range g.cfg.Edges {
		switch e.Kind {
		case workflow.EdgeLoop:
			counter := loopCounterPrefix + e.To
			if _, dup := g.loopCounters[e.To]; dup {
				return &ConfigError{Err: fmt.Errorf("node %q is the target of more than one loop edge", e.To)}
			}
			g.loopCounters[e.To] = counter
			hidden = append(hidden, state.FieldSpec{
				Name: counter, Type: schema.Int(), Default: 0, HasDefault: true,
			})
		case workflow.EdgeParallel:
			haveParallel = true
		}
	}
	if haveParallel {
		hidden = append(hidden, state.FieldSpec{
			Name: branchIndexField, Type: schema.Int(), Default: 0, HasDefault: true,
		})
	}

	g.schema, err = base.WithHidden(hidden...)
	if err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

func (g *Graph) buildPlans() error {
	plan := func(from string) *edgePlan {
		p, ok := g.plans[from]
		if !ok {
			p = &edgePlan{}
			g.plans[from] = p
		}
		return p
	}
	for _, e := range g.cfg.Edges {
		p := plan(e.From)
		switch e.Kind {
		case workflow.EdgeLoop:
			cond, err := condition.Compile(e.Loop.Condition)
			if err != nil {
				return &ConfigError{Err: fmt.Errorf("loop condition: %w", err)}
			}
			p.loop = &loopPlan{to: e.To, counter: g.loopCounters[e.To], max: e.Loop.MaxIterations, cond: cond}
		case workflow.EdgeConditional:
			for _, r := range e.Routes {
				cond, err := condition.Compile(r.Condition)
				if err != nil {
					return &ConfigError{Err: fmt.Errorf("route condition: %w", err)}
				}
				p.routes = append(p.routes, routePlan{cond: cond, to: r.To})
			}
			p.defaultTo = e.Default
		case workflow.EdgeParallel:
			p.parallel = &parallelPlan{
				to:      e.To,
				items:   e.Parallel.ItemsField,
				collect: e.Parallel.CollectField,
				each:    e.Parallel.EachField,
			}
		default:
			p.to = e.To
		}
	}
	return nil
}

func (g *Graph) buildExecutors(opts Options) error {
	// providers are shared across nodes with the same endpoint
	clients := map[string]*llm.Client{}
	retry := llm.DefaultRetryConfig()
	if n := g.cfg.Settings.Execution.MaxRetries; n > 0 {
		retry.MaxAttempts = n
	}

	for _, node := range g.cfg.Nodes {
		merged := g.cfg.Settings.LLM.Merge(node.LLM)
		if merged.Provider == "" {
			return &ConfigError{Err: fmt.Errorf("node %q: no llm provider configured", node.ID)}
		}

		key := merged.Provider + "|" + merged.APIBase
		client, ok := clients[key]
		if !ok {
			provider, err := opts.NewProvider(merged.Provider, llm.Settings{APIBase: merged.APIBase})
			if err != nil {
				return &ConfigError{Err: fmt.Errorf("node %q: %w", node.ID, err)}
			}
			client = llm.NewClient(provider, opts.Registry, g.log, llm.WithRetryConfig(retry))
			clients[key] = client
		}

		outputSchema := schema.String()
		if node.OutputSchema != nil {
			outputSchema = *node.OutputSchema
		}
		descriptions := map[string]string{}
		for _, out := range node.Outputs {
			if f, ok := g.cfg.Field(out); ok {
				descriptions[out] = f.Description
			}
		}
		output, err := state.BuildOutputModel(node.ID, outputSchema, node.Outputs, descriptions)
		if err != nil {
			return &ConfigError{Err: err}
		}

		var toolDefs []llm.ToolDefinition
		for _, name := range node.Tools {
			tool, err := opts.Registry.Get(name)
			if err != nil {
				return &ConfigError{Err: fmt.Errorf("node %q: %w", node.ID, err)}
			}
			toolDefs = append(toolDefs, llm.ToolDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Schema:      tool.InputSchema().JSONSchema(),
			})
		}

		g.nodes[node.ID] = &executor{
			cfg:    node,
			output: output,
			client: client,
			params: llm.Params{
				Model:       merged.Model,
				Temperature: merged.Temperature,
				MaxTokens:   merged.MaxTokens,
				TopP:        merged.TopP,
			},
			toolDefs: toolDefs,
			log:      g.log,
		}
	}
	return nil
}

// Invoke runs the graph to END. On failure the last consistent state is
// returned alongside the error.
func (g *Graph) Invoke(ctx context.Context, st *state.State) (*state.State, error) {
	cur := workflow.StartNode
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		next, isParallel, err := g.next(cur, st)
		if err != nil {
			return st, err
		}
		if next == workflow.EndNode {
			return st, nil
		}
		if isParallel {
			st, err = g.runParallel(ctx, g.plans[cur].parallel, st)
		} else {
			st, err = g.runNode(ctx, next, st)
		}
		if err != nil {
			return st, err
		}
		cur = next
	}
}

// next resolves the routing decision out of `from`: loop re-entry first,
// then conditional routes in declared order, then the structural edge.
func (g *Graph) next(from string, st *state.State) (next string, isParallel bool, err error) {
	plan, ok := g.plans[from]
	if !ok {
		return "", false, &RuntimeError{Op: "route", Err: fmt.Errorf("node %q has no outgoing edge", from)}
	}
	snap := st.Snapshot()
	if plan.loop != nil {
		hold, err := plan.loop.cond.Eval(snap)
		if err != nil {
			return "", false, &RuntimeError{Op: "evaluate loop condition", Err: err}
		}
		if hold && intValue(st.Value(plan.loop.counter)) < plan.loop.max {
			return plan.loop.to, false, nil
		}
	}
	if len(plan.routes) > 0 {
		for _, r := range plan.routes {
			match, err := r.cond.Eval(snap)
			if err != nil {
				return "", false, &RuntimeError{Op: "evaluate route condition", Err: err}
			}
			if match {
				return r.to, false, nil
			}
		}
		return plan.defaultTo, false, nil
	}
	if plan.parallel != nil {
		return plan.parallel.to, true, nil
	}
	return plan.to, false, nil
}

func (g *Graph) runNode(ctx context.Context, id string, st *state.State) (*state.State, error) {
	iteration := 0
	if counter, ok := g.loopCounters[id]; ok {
		iteration = intValue(st.Value(counter)) + 1
		next, err := st.Apply(state.Delta{counter: iteration})
		if err != nil {
			return st, &RuntimeError{Op: "advance loop counter", Err: err}
		}
		st = next
	}

	delta, metrics, err := g.nodes[id].run(ctx, st)
	result := NodeResult{
		NodeID:     id,
		Iteration:  iteration,
		Err:        err,
		Duration:   metrics.Duration,
		Usage:      metrics.Usage,
		Cost:       metrics.Cost,
		ToolRounds: metrics.ToolRounds,
	}
	if err != nil {
		g.emit(ctx, result)
		return st, err
	}

	applied, err := st.Apply(delta)
	if err != nil {
		result.Err = nodeErr(id, PhaseOutputValidation, err)
		g.emit(ctx, result)
		return st, result.Err
	}
	result.State = applied
	g.emit(ctx, result)
	return applied, nil
}

func (g *Graph) emit(ctx context.Context, r NodeResult) {
	if g.hook == nil {
		return
	}
	g.hookMu.Lock()
	defer g.hookMu.Unlock()
	g.hook(ctx, r)
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
