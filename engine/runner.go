package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/common/models"
	"github.com/lyzr/graphflow/store"
	"github.com/lyzr/graphflow/tools"
	"github.com/lyzr/graphflow/trace"
	"github.com/lyzr/graphflow/workflow"
)

// Runner executes workflows end to end: validate, build, run, persist,
// trace. Persistence and tracing failures never fail a run.
type Runner struct {
	executions  *store.ExecutionRepo
	states      *store.ExecutionStateRepo
	tracer      trace.Tracer
	registry    *tools.Registry
	log         *logger.Logger
	newProvider ProviderResolver
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTracer overrides the tracing sink.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithRegistry overrides the tool registry.
func WithRegistry(reg *tools.Registry) RunnerOption {
	return func(r *Runner) { r.registry = reg }
}

// WithProviderResolver substitutes provider construction; used by tests.
func WithProviderResolver(f ProviderResolver) RunnerOption {
	return func(r *Runner) { r.newProvider = f }
}

// NewRunner builds a runner. db may be nil, in which case runs are not
// persisted.
func NewRunner(db *store.DB, log *logger.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		tracer:   trace.Noop{},
		registry: tools.DefaultRegistry(),
		log:      log,
	}
	if db != nil {
		r.executions = store.NewExecutionRepo(db)
		r.states = store.NewExecutionStateRepo(db)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunResult summarizes one finished run.
type RunResult struct {
	ExecutionID uuid.UUID
	Status      models.ExecutionStatus
	FinalState  map[string]any
	Totals      trace.Totals
	Duration    time.Duration
}

// Run validates, builds, and executes the workflow against the given
// inputs. The returned error is the run failure, if any; the result is
// populated either way once the run has started.
func (r *Runner) Run(ctx context.Context, cfg *workflow.Config, inputs map[string]any) (*RunResult, error) {
	if err := workflow.Validate(cfg, r.registry.Names()); err != nil {
		return nil, &ConfigError{Err: err}
	}

	exec := &models.Execution{
		ExecutionID:     uuid.New(),
		WorkflowName:    cfg.Flow.Name,
		WorkflowVersion: cfg.Flow.Version,
		Status:          models.StatusQueued,
		Inputs:          inputs,
		StartedAt:       time.Now().UTC(),
		CreatedAt:       time.Now().UTC(),
	}
	log := r.log.WithWorkflow(cfg.Flow.Name).WithExecutionID(exec.ExecutionID.String())

	// persistence must survive run timeouts and cancellation
	persistCtx := context.WithoutCancel(ctx)

	seq := 0
	codec := store.NewSnapshotCodec(cfg.Settings.Observability.ArtifactLevel)
	var totals trace.Totals
	hook := func(hctx context.Context, res NodeResult) {
		totals.Nodes++
		totals.PromptTokens += res.Usage.PromptTokens
		totals.CompletionTokens += res.Usage.CompletionTokens
		totals.CostUSD += res.Cost

		status := models.NodeSucceeded
		if res.Err != nil {
			status = models.NodeFailed
		}
		attrs := map[string]any{"iteration": res.Iteration}
		if res.BranchIndex != nil {
			attrs["branch_index"] = *res.BranchIndex
		}
		_, span := r.tracer.StartNode(hctx, res.NodeID, attrs)
		span.End(string(status), trace.Metrics{
			DurationMS:       res.Duration.Milliseconds(),
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			CostUSD:          res.Cost,
		})

		if r.states == nil {
			return
		}
		rec := &models.ExecutionState{
			ID:               uuid.New(),
			ExecutionID:      exec.ExecutionID,
			NodeID:           res.NodeID,
			Seq:              seq,
			Iteration:        res.Iteration,
			BranchIndex:      res.BranchIndex,
			Status:           status,
			DurationMS:       res.Duration.Milliseconds(),
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			CostUSD:          res.Cost,
			SnapshotKind:     store.SnapshotNone,
			CreatedAt:        time.Now().UTC(),
		}
		seq++
		if res.Err != nil {
			msg := res.Err.Error()
			rec.Error = &msg
		} else if res.State != nil {
			snapshot, kind, err := codec.Encode(res.State.VisibleSnapshot())
			if err != nil {
				log.Warn("snapshot encoding failed", "node_id", res.NodeID, "error", err)
			} else {
				rec.Snapshot = snapshot
				rec.SnapshotKind = kind
			}
		}
		if err := r.states.Create(persistCtx, rec); err != nil {
			log.Warn("node state not persisted", "node_id", res.NodeID, "error", err)
		}
	}

	graph, err := Build(cfg, Options{
		Registry:    r.registry,
		Log:         log,
		Hook:        hook,
		NewProvider: r.newProvider,
	})
	if err != nil {
		return nil, err
	}
	st, err := graph.NewState(inputs)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	if r.executions != nil {
		if err := r.executions.Create(persistCtx, exec); err != nil {
			log.Warn("execution not persisted", "error", err)
		}
	}
	exec.Status = models.StatusRunning
	if r.executions != nil {
		if err := r.executions.UpdateStatus(persistCtx, exec.ExecutionID, exec.Status); err != nil {
			log.Warn("execution status not persisted", "error", err)
		}
	}

	wfCtx, wfSpan := r.tracer.StartWorkflow(ctx, exec)
	runCtx := wfCtx
	if timeout := cfg.Settings.Execution.TimeoutSeconds; timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(wfCtx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	log.Info("workflow started", "version", cfg.Flow.Version)
	final, runErr := graph.Invoke(runCtx, st)

	exec.Status = models.StatusSucceeded
	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled) {
			exec.Status = models.StatusCancelled
		} else {
			exec.Status = models.StatusFailed
		}
		var nodeErr *NodeExecutionError
		if errors.As(runErr, &nodeErr) {
			phase := string(nodeErr.Phase)
			exec.FailedNodeID = &nodeErr.NodeID
			exec.FailedPhase = &phase
		}
		msg := runErr.Error()
		exec.Error = &msg
	}
	if final != nil {
		exec.FinalState = final.VisibleSnapshot()
	}
	exec.PromptTokens = totals.PromptTokens
	exec.CompletionTokens = totals.CompletionTokens
	exec.CostUSD = totals.CostUSD
	now := time.Now().UTC()
	exec.FinishedAt = &now

	if r.executions != nil {
		if err := r.executions.Finish(persistCtx, exec); err != nil {
			log.Warn("execution result not persisted", "error", err)
		}
	}
	wfSpan.End(string(exec.Status), trace.Metrics{
		DurationMS:       now.Sub(exec.StartedAt).Milliseconds(),
		PromptTokens:     totals.PromptTokens,
		CompletionTokens: totals.CompletionTokens,
		CostUSD:          totals.CostUSD,
	})
	r.tracer.LogCostSummary(wfCtx, exec.ExecutionID, totals)
	log.Info("workflow finished",
		"status", exec.Status,
		"nodes", totals.Nodes,
		"cost_usd", totals.CostUSD,
	)

	return &RunResult{
		ExecutionID: exec.ExecutionID,
		Status:      exec.Status,
		FinalState:  exec.FinalState,
		Totals:      totals,
		Duration:    now.Sub(exec.StartedAt),
	}, runErr
}
