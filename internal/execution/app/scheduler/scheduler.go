// Package scheduler executes a plan with continuous dispatch: a node starts
// as soon as its last in-scope predecessor reaches a terminal state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/app/graph"
	"github.com/weaveflow-go/internal/execution/ports"
	"github.com/weaveflow-go/pkg/logger"
	"github.com/weaveflow-go/pkg/telemetry"
)

const abortedMsg = "skipped: run aborted by scheduler error"

// StateTracker is the subset of the tracker the scheduler writes through.
type StateTracker interface {
	MarkRunning(ctx context.Context, runID, nodeID string, inputs map[string]interface{}) error
	MarkSuccess(ctx context.Context, runID, nodeID string, output interface{}, duration time.Duration) error
	MarkFailed(ctx context.Context, runID, nodeID, errMsg string, duration time.Duration) error
	MarkCancelled(ctx context.Context, runID, nodeID, errMsg string, duration time.Duration) error
	MarkSkipped(ctx context.Context, runID, nodeID, reason string) error
	Finalize(ctx context.Context, runID string, status workflow.RunStatus, errMsg string) (*workflow.ExecutionRun, error)
}

type Config struct {
	// MaxConcurrency bounds in-flight nodes of one run. 0 means unbounded.
	MaxConcurrency int
	// NodeTimeout bounds a single executor call. 0 means no limit.
	NodeTimeout time.Duration
}

type Scheduler struct {
	executor  ports.TaskExecutor
	tracker   StateTracker
	telemetry *telemetry.Telemetry
	logger    logger.Logger
	config    Config
}

func New(executor ports.TaskExecutor, tracker StateTracker, tel *telemetry.Telemetry, log logger.Logger, cfg Config) *Scheduler {
	if tel == nil {
		tel = telemetry.NewNop()
	}
	return &Scheduler{
		executor:  executor,
		tracker:   tracker,
		telemetry: tel,
		logger:    log,
		config:    cfg,
	}
}

// Run drives one run to completion and finalizes it. Node failures are
// recorded on the run, not returned. The returned error is non-nil only for
// a scheduler invariant violation or a failure to finalize.
func (s *Scheduler) Run(ctx context.Context, run *workflow.ExecutionRun, plan *graph.Plan) (*workflow.ExecutionRun, error) {
	ctx, span := s.telemetry.StartSpan(ctx, "run",
		telemetry.RunIDAttribute(run.ID),
		telemetry.WorkflowIDAttribute(run.WorkflowID),
	)

	rc := newRunContext(ctx, s, run, plan)
	rc.logger.Debug("Run dispatch started", "nodes", plan.Len(), "roots", len(plan.Roots()), "droppedEdges", plan.DroppedEdges)

	for _, n := range plan.Roots() {
		rc.dispatch(n.ID)
	}
	rc.wg.Wait()

	status, errMsg := rc.settle()

	final, err := s.tracker.Finalize(rc.persist, run.ID, status, errMsg)
	if err == nil {
		err = rc.violationErr()
	} else if v := rc.violationErr(); v != nil {
		err = errors.Join(v, err)
	}

	var spanErr error
	if status != workflow.RunSuccess {
		spanErr = errors.New(errMsg)
	}
	telemetry.EndSpan(span, spanErr)

	rc.logger.Info("Run completed", "status", status, "error", errMsg)
	return final, err
}

// settle gives every never-dispatched node a terminal state and decides the run status.
func (rc *RunContext) settle() (workflow.RunStatus, string) {
	failed := rc.hasError.Load()
	aborted := rc.violationErr() != nil

	var pending []string
	for _, n := range rc.plan.Nodes() {
		if !rc.dispatched[n.ID].Load() {
			pending = append(pending, n.ID)
		}
	}
	// A cancel that lands after every node finished does not change the outcome.
	cancelled := rc.ctx.Err() != nil && (len(pending) > 0 || rc.cancelledNodes.Load() > 0)

	var residual []string
	for _, id := range pending {
		switch {
		case aborted:
			rc.track(id, rc.s.tracker.MarkSkipped(rc.persist, rc.runID, id, abortedMsg))
		case cancelled:
			rc.track(id, rc.s.tracker.MarkCancelled(rc.persist, rc.runID, id, workflow.CancelledMsg, 0))
		case failed:
			rc.track(id, rc.s.tracker.MarkSkipped(rc.persist, rc.runID, id, workflow.SkippedAfterFailureMsg))
		default:
			residual = append(residual, id)
		}
	}

	var cycleErr *workflow.GraphError
	if len(residual) > 0 {
		cycleErr = workflow.NewGraphError(workflow.CycleDetected, "nodes never became ready", residual...)
		for _, id := range residual {
			rc.track(id, rc.s.tracker.MarkSkipped(rc.persist, rc.runID, id, "skipped: "+cycleErr.Error()))
		}
		rc.logger.Warn("Cycle detected among scoped nodes", "nodes", residual)
	}

	switch {
	case aborted:
		return workflow.RunFailed, rc.violationErr().Error()
	case cancelled:
		return workflow.RunCancelled, fmt.Sprintf("run cancelled: %v", context.Cause(rc.ctx))
	case failed:
		return workflow.RunFailed, rc.firstFailure()
	case cycleErr != nil:
		return workflow.RunFailed, cycleErr.Error()
	}
	return workflow.RunSuccess, ""
}

func (rc *RunContext) runNode(id string) {
	node, _ := rc.plan.Node(id)
	log := rc.logger.With("nodeId", id, "nodeType", node.Type)

	defer rc.release(id)

	if rc.sem != nil {
		if err := rc.sem.Acquire(rc.ctx, 1); err != nil {
			rc.cancelNode(id, 0)
			return
		}
		defer rc.sem.Release(1)
	}
	if rc.ctx.Err() != nil {
		rc.cancelNode(id, 0)
		return
	}

	inputs := rc.collectInputs(id)
	if !rc.track(id, rc.s.tracker.MarkRunning(rc.persist, rc.runID, id, inputs)) {
		rc.track(id, rc.s.tracker.MarkSkipped(rc.persist, rc.runID, id, abortedMsg))
		return
	}

	nodeCtx, span := rc.s.telemetry.StartSpan(rc.ctx, "node "+string(node.Type),
		telemetry.NodeIDAttribute(id),
		telemetry.NodeTypeAttribute(string(node.Type)),
	)
	if rc.s.config.NodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(nodeCtx, rc.s.config.NodeTimeout)
		defer cancel()
	}

	log.Debug("Node started")
	start := time.Now()
	output, err := rc.invoke(nodeCtx, ports.TaskRequest{
		RunID:    rc.runID,
		NodeID:   id,
		NodeType: node.Type,
		NodeData: node.Data,
		Inputs:   inputs,
	})
	duration := time.Since(start)

	switch {
	case err == nil:
		rc.storeResult(id, output)
		rc.track(id, rc.s.tracker.MarkSuccess(rc.persist, rc.runID, id, output, duration))
		log.Debug("Node succeeded", "duration", duration)
	case rc.ctx.Err() != nil && isContextErr(err):
		rc.cancelNode(id, duration)
		log.Info("Node cancelled", "duration", duration)
	default:
		if errors.Is(err, context.DeadlineExceeded) && nodeCtx.Err() != nil {
			err = fmt.Errorf("node timed out after %s: %w", rc.s.config.NodeTimeout, err)
		}
		nodeErr := &workflow.NodeExecutionError{NodeID: id, NodeType: node.Type, Err: err}
		rc.recordFailure(nodeErr)
		rc.track(id, rc.s.tracker.MarkFailed(rc.persist, rc.runID, id, err.Error(), duration))
		log.Warn("Node failed", "error", nodeErr, "duration", duration)
	}
	telemetry.EndSpan(span, err)
}

// release decrements every dependent's counter and dispatches those that
// became ready, unless the run has a failure or was cancelled.
func (rc *RunContext) release(id string) {
	for _, dep := range rc.plan.Dependents(id) {
		remaining := rc.remaining[dep].Add(-1)
		if remaining < 0 {
			rc.violate(dep, "dependency counter went negative")
			continue
		}
		if remaining == 0 && !rc.hasError.Load() && rc.ctx.Err() == nil && rc.violationErr() == nil {
			rc.dispatch(dep)
		}
	}
}

func (rc *RunContext) invoke(ctx context.Context, req ports.TaskRequest) (output interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return rc.s.executor.Execute(ctx, req)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
