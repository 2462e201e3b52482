// Package engine is the entry point for submitting and observing runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/app/graph"
	"github.com/weaveflow-go/internal/execution/app/scheduler"
	"github.com/weaveflow-go/internal/execution/app/tracker"
	"github.com/weaveflow-go/internal/execution/ports"
	"github.com/weaveflow-go/pkg/logger"
	"github.com/weaveflow-go/pkg/telemetry"
)

var (
	ErrCancelRequested = errors.New("cancelled by request")
	ErrRunTimeout      = errors.New("run timeout exceeded")
	ErrEngineStopped   = errors.New("engine stopped")
)

// NodeCatalog reports which node types can be executed.
type NodeCatalog interface {
	Has(t workflow.NodeType) bool
}

type SubmitRequest struct {
	WorkflowID string          `json:"workflowId"`
	Scope      workflow.Scope  `json:"scope"`
	Nodes      []workflow.Node `json:"nodes"`
	Edges      []workflow.Edge `json:"edges"`
}

type Config struct {
	Scheduler scheduler.Config
	// RunTimeout cancels a run that has not finished in time. 0 means no limit.
	RunTimeout time.Duration
	// HeartbeatInterval renews the lease of in-flight runs when the store
	// supports it and the tracker stamps an owner. 0 disables renewal.
	HeartbeatInterval time.Duration
}

type Deps struct {
	Store     ports.RunStore
	Tracker   *tracker.Tracker
	Executor  ports.TaskExecutor
	Catalog   NodeCatalog
	Telemetry *telemetry.Telemetry
	Logger    logger.Logger
}

// Run is a handle on a submitted run.
type Run struct {
	ID         string
	WorkflowID string

	cancel context.CancelCauseFunc
	done   chan struct{}
	result *workflow.ExecutionRun
	err    error
}

// Done is closed once the run is finalized.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result returns the finalized run. It is only meaningful after Done is closed.
func (r *Run) Result() (*workflow.ExecutionRun, error) {
	return r.result, r.err
}

type Engine struct {
	store     ports.RunStore
	tracker   *tracker.Tracker
	scheduler *scheduler.Scheduler
	catalog   NodeCatalog
	logger    logger.Logger
	config    Config

	mu      sync.Mutex
	runs    map[string]*Run
	stopped bool

	baseCtx context.Context
	stop    context.CancelCauseFunc
	wg      sync.WaitGroup
}

func New(deps Deps, cfg Config) *Engine {
	base, stop := context.WithCancelCause(context.Background())
	e := &Engine{
		store:     deps.Store,
		tracker:   deps.Tracker,
		scheduler: scheduler.New(deps.Executor, deps.Tracker, deps.Telemetry, deps.Logger, cfg.Scheduler),
		catalog:   deps.Catalog,
		logger:    deps.Logger,
		config:    cfg,
		runs:      make(map[string]*Run),
		baseCtx:   base,
		stop:      stop,
	}

	if renewer, ok := deps.Store.(ports.LeaseRenewer); ok && cfg.HeartbeatInterval > 0 && deps.Tracker.Owner() != "" {
		go e.renewLeases(renewer, deps.Tracker.Owner(), cfg.HeartbeatInterval)
	}
	return e
}

// renewLeases refreshes the heartbeat of every in-flight run until Stop.
func (e *Engine) renewLeases(renewer ports.LeaseRenewer, owner string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.baseCtx.Done():
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		ids := make([]string, 0, len(e.runs))
		for id := range e.runs {
			ids = append(ids, id)
		}
		e.mu.Unlock()
		if len(ids) == 0 {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		if err := renewer.RenewLeases(ctx, owner, ids, time.Now().UTC()); err != nil {
			e.logger.Warn("Failed to renew run leases", "runs", len(ids), "error", err)
		}
		cancel()
	}
}

// Submit validates the request, creates the run and its pending rows, and
// starts execution in the background. It returns once the records exist.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Run, error) {
	if req.WorkflowID == "" {
		req.WorkflowID = workflow.UnsavedWorkflowID
	}
	if req.Scope == "" {
		req.Scope = workflow.ScopeFull
	}

	var known func(workflow.NodeType) bool
	if e.catalog != nil {
		known = e.catalog.Has
	}
	if err := workflow.ValidateSubmission(req.Scope, req.Nodes, req.Edges, known); err != nil {
		return nil, err
	}

	plan, err := graph.Build(req.Nodes, req.Edges, e.logger)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrEngineStopped
	}
	e.wg.Add(1)
	e.mu.Unlock()

	record, err := e.tracker.CreateRun(ctx, req.WorkflowID, req.Scope, req.Nodes)
	if err != nil {
		e.wg.Done()
		return nil, err
	}

	// Runs outlive the submitting request, so they hang off the engine's context.
	runCtx, cancel := context.WithCancelCause(e.baseCtx)
	if e.config.RunTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeoutCause(runCtx, e.config.RunTimeout, ErrRunTimeout)
		inner := cancel
		cancel = func(cause error) {
			inner(cause)
			cancelTimeout()
		}
	}

	run := &Run{
		ID:         record.ID,
		WorkflowID: record.WorkflowID,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	e.mu.Lock()
	e.runs[run.ID] = run
	e.mu.Unlock()

	go e.execute(runCtx, run, record, plan)

	return run, nil
}

func (e *Engine) execute(ctx context.Context, run *Run, record *workflow.ExecutionRun, plan *graph.Plan) {
	defer e.wg.Done()
	defer run.cancel(nil)

	final, err := e.scheduler.Run(ctx, record, plan)
	if err != nil {
		e.logger.Error("Run ended with scheduler error", "runId", run.ID, "error", err)
	}
	run.result, run.err = final, err

	e.mu.Lock()
	delete(e.runs, run.ID)
	e.mu.Unlock()
	close(run.done)
}

// Wait blocks until the run is finalized or ctx is done.
func (e *Engine) Wait(ctx context.Context, runID string) (*workflow.ExecutionRun, error) {
	e.mu.Lock()
	run, ok := e.runs[runID]
	e.mu.Unlock()

	if ok {
		select {
		case <-run.done:
			return run.Result()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	record, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !record.Status.Terminal() {
		// Persisted as running but not owned by this engine.
		return nil, fmt.Errorf("run %s is not executing in this process", runID)
	}
	return record, nil
}

// Cancel stops dispatch for a run. In-flight nodes see their context cancelled.
func (e *Engine) Cancel(runID string) error {
	e.mu.Lock()
	run, ok := e.runs[runID]
	e.mu.Unlock()

	if ok {
		e.logger.Info("Cancelling run", "runId", runID)
		run.cancel(ErrCancelRequested)
		return nil
	}

	record, err := e.store.GetRun(context.Background(), runID)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		return workflow.ErrRunAlreadyFinalized
	}
	return fmt.Errorf("run %s is not executing in this process", runID)
}

// GetRun returns a run with its node executions, preferring live state.
func (e *Engine) GetRun(ctx context.Context, runID string) (*workflow.RunDetail, error) {
	if snap, ok := e.tracker.Snapshot(runID); ok {
		return snap, nil
	}

	record, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.store.ListNodeExecutions(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node executions: %w", err)
	}
	return &workflow.RunDetail{ExecutionRun: *record, Nodes: nodes}, nil
}

// History returns a workflow's runs, newest first, with their node executions.
func (e *Engine) History(ctx context.Context, workflowID string, limit int) ([]workflow.RunDetail, error) {
	if limit <= 0 || limit > ports.DefaultHistoryLimit {
		limit = ports.DefaultHistoryLimit
	}
	runs, err := e.store.ListRuns(ctx, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]workflow.RunDetail, 0, len(runs))
	for _, r := range runs {
		nodes, err := e.store.ListNodeExecutions(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list node executions: %w", err)
		}
		out = append(out, workflow.RunDetail{ExecutionRun: r, Nodes: nodes})
	}
	return out, nil
}

// Watch streams transitions of an in-flight run.
func (e *Engine) Watch(runID string) (<-chan tracker.Transition, func(), bool) {
	return e.tracker.Watch(runID)
}

// Active returns the number of runs currently executing.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// Stop rejects new submissions, cancels every in-flight run and waits for
// them to finalize or for ctx to expire.
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Stopping engine")

	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.stop(ErrEngineStopped)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
