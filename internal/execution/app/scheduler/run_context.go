package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/app/graph"
	"github.com/weaveflow-go/pkg/logger"
)

// RunContext holds the mutable state of one Scheduler.Run invocation.
// It is never shared between runs.
type RunContext struct {
	s      *Scheduler
	runID  string
	plan   *graph.Plan
	logger logger.Logger

	// ctx is cancelled when the run is cancelled. persist never is, so
	// records written after cancellation still land.
	ctx     context.Context
	persist context.Context

	remaining  map[string]*atomic.Int32
	dispatched map[string]*atomic.Bool
	hasError   atomic.Bool

	cancelledNodes atomic.Int32

	mu        sync.Mutex
	results   map[string]interface{}
	failure   *workflow.NodeExecutionError
	violation *workflow.SchedulerInvariantViolation

	sem *semaphore.Weighted
	wg  conc.WaitGroup
}

func newRunContext(ctx context.Context, s *Scheduler, run *workflow.ExecutionRun, plan *graph.Plan) *RunContext {
	rc := &RunContext{
		s:          s,
		runID:      run.ID,
		plan:       plan,
		logger:     logger.ForRun(s.logger, run.ID, run.WorkflowID),
		ctx:        ctx,
		persist:    context.WithoutCancel(ctx),
		remaining:  make(map[string]*atomic.Int32, plan.Len()),
		dispatched: make(map[string]*atomic.Bool, plan.Len()),
		results:    make(map[string]interface{}, plan.Len()),
	}
	for _, n := range plan.Nodes() {
		c := new(atomic.Int32)
		c.Store(int32(plan.InDegree(n.ID)))
		rc.remaining[n.ID] = c
		rc.dispatched[n.ID] = new(atomic.Bool)
	}
	if s.config.MaxConcurrency > 0 {
		rc.sem = semaphore.NewWeighted(int64(s.config.MaxConcurrency))
	}
	return rc
}

func (rc *RunContext) dispatch(id string) {
	if !rc.dispatched[id].CompareAndSwap(false, true) {
		rc.violate(id, "node dispatched twice")
		return
	}
	rc.wg.Go(func() {
		rc.runNode(id)
	})
}

// collectInputs maps each in-scope input edge's target handle to its source's result.
// Sources without a result contribute nothing.
func (rc *RunContext) collectInputs(id string) map[string]interface{} {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	inputs := make(map[string]interface{})
	for _, e := range rc.plan.Incoming(id) {
		result, ok := rc.results[e.Source]
		if !ok || e.TargetHandle == "" {
			continue
		}
		if workflow.MultiInput(e.TargetHandle) {
			list, _ := inputs[e.TargetHandle].([]interface{})
			inputs[e.TargetHandle] = append(list, result)
			continue
		}
		inputs[e.TargetHandle] = result
	}
	return inputs
}

func (rc *RunContext) cancelNode(id string, duration time.Duration) {
	rc.cancelledNodes.Add(1)
	rc.track(id, rc.s.tracker.MarkCancelled(rc.persist, rc.runID, id, workflow.CancelledMsg, duration))
}

func (rc *RunContext) storeResult(id string, output interface{}) {
	rc.mu.Lock()
	rc.results[id] = output
	rc.mu.Unlock()
}

// Results returns a copy of the outputs produced so far.
func (rc *RunContext) Results() map[string]interface{} {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]interface{}, len(rc.results))
	for k, v := range rc.results {
		out[k] = v
	}
	return out
}

func (rc *RunContext) recordFailure(err *workflow.NodeExecutionError) {
	rc.mu.Lock()
	if rc.failure == nil {
		rc.failure = err
	}
	rc.mu.Unlock()
	rc.hasError.Store(true)
}

func (rc *RunContext) firstFailure() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.failure == nil {
		return "run failed"
	}
	return rc.failure.Error()
}

func (rc *RunContext) violate(nodeID, msg string) {
	v := &workflow.SchedulerInvariantViolation{RunID: rc.runID, NodeID: nodeID, Msg: msg}
	rc.logger.Error("Scheduler invariant violated", "nodeId", nodeID, "error", v)
	rc.mu.Lock()
	if rc.violation == nil {
		rc.violation = v
	}
	rc.mu.Unlock()
}

func (rc *RunContext) violationErr() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.violation == nil {
		return nil
	}
	return rc.violation
}

// track inspects a tracker write. Invariant violations are recorded; other
// errors are logged since the tracker's in-memory state has already advanced.
// It reports whether the transition was accepted.
func (rc *RunContext) track(nodeID string, err error) bool {
	if err == nil {
		return true
	}
	var v *workflow.SchedulerInvariantViolation
	if errors.As(err, &v) {
		rc.violate(nodeID, fmt.Sprintf("tracker rejected transition: %s", v.Msg))
		return false
	}
	rc.logger.Error("Failed to record node transition", "nodeId", nodeID, "error", err)
	return true
}
