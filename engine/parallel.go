package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lyzr/graphflow/state"
)

type branchOutcome struct {
	delta state.Delta
	err   error
}

// runParallel fans one branch out per element of the items field, runs the
// target node against a branch-local state, and joins the results into the
// collect field in branch-index order.
func (g *Graph) runParallel(ctx context.Context, plan *parallelPlan, st *state.State) (*state.State, error) {
	items, _ := st.Value(plan.items).([]any)
	if len(items) == 0 {
		// zero branches still resolve the fan-in: the collect field
		// becomes an empty list, not nil
		applied, err := st.Apply(state.Delta{plan.collect: []any{}})
		if err != nil {
			return st, &RuntimeError{Op: "collect parallel results", Err: err}
		}
		return applied, nil
	}

	limit := g.limit
	if limit <= 0 {
		limit = defaultParallelLimit
	}
	if limit > len(items) {
		limit = len(items)
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make([]branchOutcome, len(items))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-branchCtx.Done():
				outcomes[i].err = branchCtx.Err()
				return
			}
			defer func() { <-sem }()
			outcomes[i] = g.runBranch(branchCtx, plan, st, items[i], i)
			if outcomes[i].err != nil && g.failFast {
				cancel()
			}
		}(i)
	}
	wg.Wait()

	if g.failFast {
		if err := firstBranchError(outcomes); err != nil {
			return st, err
		}
	}

	// join: one contribution per branch, errors as placeholders, lists
	// flattened, ordered by branch index
	contributions := make([]any, 0, len(items))
	for i, out := range outcomes {
		if out.err != nil {
			contributions = append(contributions, map[string]any{
				"index": i,
				"error": out.err.Error(),
			})
			continue
		}
		v, ok := out.delta[plan.collect]
		if !ok {
			v = out.delta[g.nodes[plan.to].cfg.Outputs[0]]
		}
		if list, isList := v.([]any); isList {
			contributions = append(contributions, list...)
		} else {
			contributions = append(contributions, v)
		}
	}

	applied, err := st.Apply(state.Delta{plan.collect: contributions})
	if err != nil {
		return st, &RuntimeError{Op: "collect parallel results", Err: err}
	}
	return applied, nil
}

// runBranch executes the parallel target once against a copy of the fan-out
// snapshot with the branch item and index bound.
func (g *Graph) runBranch(ctx context.Context, plan *parallelPlan, st *state.State, item any, index int) branchOutcome {
	branchSt, err := st.Apply(state.Delta{plan.each: item, branchIndexField: index})
	if err != nil {
		return branchOutcome{err: &RuntimeError{Op: fmt.Sprintf("bind branch %d item", index), Err: err}}
	}

	delta, metrics, err := g.nodes[plan.to].run(ctx, branchSt)
	idx := index
	g.emit(ctx, NodeResult{
		NodeID:      plan.to,
		BranchIndex: &idx,
		Err:         err,
		Duration:    metrics.Duration,
		Usage:       metrics.Usage,
		Cost:        metrics.Cost,
		ToolRounds:  metrics.ToolRounds,
	})
	return branchOutcome{delta: delta, err: err}
}

// firstBranchError picks the lowest-index real failure, skipping the
// cancellations fail_fast itself induced.
func firstBranchError(outcomes []branchOutcome) error {
	var fallback error
	for _, out := range outcomes {
		if out.err == nil {
			continue
		}
		if !errors.Is(out.err, context.Canceled) {
			return out.err
		}
		if fallback == nil {
			fallback = out.err
		}
	}
	return fallback
}
