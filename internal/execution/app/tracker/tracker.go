// Package tracker owns every write to run and node execution records.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/ports"
	"github.com/weaveflow-go/pkg/events"
	"github.com/weaveflow-go/pkg/logger"
	"github.com/weaveflow-go/pkg/metrics"
)

const watchBuffer = 64

// Transition is one status change, delivered to watchers.
type Transition struct {
	RunID    string                 `json:"runId"`
	NodeID   string                 `json:"nodeId,omitempty"`
	NodeType workflow.NodeType      `json:"nodeType,omitempty"`
	Status   string                 `json:"status"`
	Error    string                 `json:"error,omitempty"`
	Outputs  map[string]interface{} `json:"outputs,omitempty"`
	At       time.Time              `json:"at"`
}

type runState struct {
	run      workflow.ExecutionRun
	order    []string
	nodes    map[string]*workflow.NodeExecution
	watchers map[int]chan Transition
	nextID   int
	// finalized is set under the tracker lock before the final store write.
	finalized bool
}

type Tracker struct {
	store  ports.RunStore
	bus    events.EventBus
	live   ports.LiveStatePublisher
	logger logger.Logger
	owner  string

	mu   sync.Mutex
	runs map[string]*runState
	now  func() time.Time
}

type Option func(*Tracker)

// WithEventBus publishes execution.* and node.execution.* events.
func WithEventBus(bus events.EventBus) Option {
	return func(t *Tracker) { t.bus = bus }
}

// WithLiveState mirrors transitions to a live-state store.
func WithLiveState(live ports.LiveStatePublisher) Option {
	return func(t *Tracker) { t.live = live }
}

// WithOwner stamps new runs with the id of this process so peers can tell
// live runs from abandoned ones.
func WithOwner(id string) Option {
	return func(t *Tracker) { t.owner = id }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func New(store ports.RunStore, log logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		logger: log,
		runs:   make(map[string]*runState),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateRun persists a running ExecutionRun and one pending NodeExecution per node.
func (t *Tracker) CreateRun(ctx context.Context, workflowID string, scope workflow.Scope, nodes []workflow.Node) (*workflow.ExecutionRun, error) {
	if workflowID == "" {
		workflowID = workflow.UnsavedWorkflowID
	}
	run := workflow.ExecutionRun{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Scope:      scope,
		Status:     workflow.RunRunning,
		NodeCount:  len(nodes),
		StartedAt:  t.now(),
		OwnerID:    t.owner,
	}
	if t.owner != "" {
		heartbeat := run.StartedAt
		run.HeartbeatAt = &heartbeat
	}

	execs := make([]workflow.NodeExecution, 0, len(nodes))
	state := &runState{
		run:      run,
		order:    make([]string, 0, len(nodes)),
		nodes:    make(map[string]*workflow.NodeExecution, len(nodes)),
		watchers: make(map[int]chan Transition),
	}
	for _, n := range nodes {
		ne := workflow.NodeExecution{
			ID:       uuid.New().String(),
			RunID:    run.ID,
			NodeID:   n.ID,
			NodeType: n.Type,
			Status:   workflow.NodePending,
		}
		execs = append(execs, ne)
		copied := ne
		state.nodes[n.ID] = &copied
		state.order = append(state.order, n.ID)
	}

	if err := t.store.CreateRun(ctx, &run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if err := t.store.CreateNodeExecutions(ctx, execs); err != nil {
		err = fmt.Errorf("failed to create node executions: %w", err)
		t.abandonRun(ctx, run, err)
		return nil, err
	}

	t.mu.Lock()
	t.runs[run.ID] = state
	t.mu.Unlock()

	metrics.RunsActive.Inc()
	t.publish(ctx, events.NewEventBuilder(events.ExecutionStarted).
		WithAggregateID(run.ID).
		WithAggregateType("run").
		WithCorrelationID(run.WorkflowID).
		WithPayload("workflowId", run.WorkflowID).
		WithPayload("scope", string(run.Scope)).
		WithPayload("nodeCount", run.NodeCount).
		Build())
	t.publishLiveRun(ctx, run)

	t.logger.Info("Run created", "runId", run.ID, "workflowId", run.WorkflowID, "scope", run.Scope, "nodes", run.NodeCount)
	return &run, nil
}

// abandonRun closes a run whose pending rows could not be written, so it
// does not linger as running with no nodes.
func (t *Tracker) abandonRun(ctx context.Context, run workflow.ExecutionRun, cause error) {
	now := t.now()
	ms := now.Sub(run.StartedAt).Milliseconds()
	if err := t.store.FinalizeRun(context.WithoutCancel(ctx), run.ID, workflow.RunFailed, now, ms, cause.Error()); err != nil {
		t.logger.Error("Failed to close run after node rows failed", "runId", run.ID, "error", err)
		return
	}
	metrics.RecordRun(string(run.Scope), string(workflow.RunFailed), float64(ms)/1000)
	t.logger.Warn("Run closed before dispatch", "runId", run.ID, "error", cause)
}

// Owner returns the owner id stamped on new runs.
func (t *Tracker) Owner() string {
	return t.owner
}

// MarkRunning moves a node from pending to running and records its inputs.
func (t *Tracker) MarkRunning(ctx context.Context, runID, nodeID string, inputs map[string]interface{}) error {
	now := t.now()
	if inputs == nil {
		inputs = map[string]interface{}{}
	}
	return t.transition(ctx, runID, nodeID, workflow.NodePatch{
		Status:    workflow.NodeRunning,
		Inputs:    inputs,
		StartedAt: &now,
	})
}

// MarkSuccess records a node's output as {"result": output}.
func (t *Tracker) MarkSuccess(ctx context.Context, runID, nodeID string, output interface{}, duration time.Duration) error {
	now := t.now()
	ms := duration.Milliseconds()
	return t.transition(ctx, runID, nodeID, workflow.NodePatch{
		Status:     workflow.NodeSuccess,
		Outputs:    workflow.ResultOutputs(output),
		EndedAt:    &now,
		DurationMs: &ms,
	})
}

func (t *Tracker) MarkFailed(ctx context.Context, runID, nodeID, errMsg string, duration time.Duration) error {
	now := t.now()
	ms := duration.Milliseconds()
	return t.transition(ctx, runID, nodeID, workflow.NodePatch{
		Status:     workflow.NodeFailed,
		Error:      &errMsg,
		EndedAt:    &now,
		DurationMs: &ms,
	})
}

// MarkCancelled ends a pending or running node because its run was cancelled.
func (t *Tracker) MarkCancelled(ctx context.Context, runID, nodeID, errMsg string, duration time.Duration) error {
	now := t.now()
	patch := workflow.NodePatch{
		Status:  workflow.NodeCancelled,
		Error:   &errMsg,
		EndedAt: &now,
	}
	if duration > 0 {
		ms := duration.Milliseconds()
		patch.DurationMs = &ms
	}
	return t.transition(ctx, runID, nodeID, patch)
}

// MarkSkipped ends a node that was never dispatched.
func (t *Tracker) MarkSkipped(ctx context.Context, runID, nodeID, reason string) error {
	now := t.now()
	return t.transition(ctx, runID, nodeID, workflow.NodePatch{
		Status:  workflow.NodeSkipped,
		Error:   &reason,
		EndedAt: &now,
	})
}

func (t *Tracker) transition(ctx context.Context, runID, nodeID string, patch workflow.NodePatch) error {
	t.mu.Lock()
	state, ok := t.runs[runID]
	if !ok || state.finalized {
		t.mu.Unlock()
		return &workflow.SchedulerInvariantViolation{RunID: runID, NodeID: nodeID, Msg: "transition on unknown or finalized run"}
	}
	ne, ok := state.nodes[nodeID]
	if !ok {
		t.mu.Unlock()
		return &workflow.SchedulerInvariantViolation{RunID: runID, NodeID: nodeID, Msg: "node is not part of the run"}
	}
	from := ne.Status
	if !workflow.CanTransition(from, patch.Status) {
		t.mu.Unlock()
		return &workflow.SchedulerInvariantViolation{
			RunID:  runID,
			NodeID: nodeID,
			Msg:    fmt.Sprintf("invalid transition %s -> %s", from, patch.Status),
		}
	}
	patch.Apply(ne)
	snapshot := *ne
	tr := Transition{
		RunID:    runID,
		NodeID:   nodeID,
		NodeType: ne.NodeType,
		Status:   string(ne.Status),
		Error:    ne.Error,
		Outputs:  ne.Outputs,
		At:       t.now(),
	}
	t.notifyLocked(state, tr)
	t.mu.Unlock()

	if err := t.store.UpdateNodeExecution(ctx, runID, nodeID, patch); err != nil {
		t.logger.Error("Failed to persist node transition",
			"runId", runID, "nodeId", nodeID, "status", patch.Status, "error", err)
		return fmt.Errorf("failed to update node execution: %w", err)
	}

	t.recordNodeMetrics(from, snapshot)
	t.publish(ctx, nodeEvent(snapshot, state.run.WorkflowID))
	if t.live != nil {
		if err := t.live.PublishNode(ctx, runID, snapshot); err != nil {
			t.logger.Warn("Failed to publish live node state", "runId", runID, "nodeId", nodeID, "error", err)
		}
	}
	return nil
}

// Finalize records the terminal status of a run. It succeeds exactly once per run.
func (t *Tracker) Finalize(ctx context.Context, runID string, status workflow.RunStatus, errMsg string) (*workflow.ExecutionRun, error) {
	if !status.Terminal() {
		return nil, &workflow.SchedulerInvariantViolation{RunID: runID, Msg: fmt.Sprintf("finalize with non-terminal status %s", status)}
	}

	t.mu.Lock()
	state, ok := t.runs[runID]
	if !ok {
		t.mu.Unlock()
		return nil, t.finalizeMiss(ctx, runID)
	}
	if state.finalized {
		t.mu.Unlock()
		return nil, workflow.ErrRunAlreadyFinalized
	}
	state.finalized = true

	now := t.now()
	ms := now.Sub(state.run.StartedAt).Milliseconds()
	state.run.Status = status
	state.run.EndedAt = &now
	state.run.DurationMs = &ms
	state.run.Error = errMsg
	run := state.run

	t.notifyLocked(state, Transition{RunID: runID, Status: string(status), Error: errMsg, At: now})
	for id, ch := range state.watchers {
		close(ch)
		delete(state.watchers, id)
	}
	t.mu.Unlock()

	metrics.RunsActive.Dec()
	metrics.RecordRun(string(run.Scope), string(status), float64(ms)/1000)

	err := t.store.FinalizeRun(ctx, runID, status, now, ms, errMsg)

	t.mu.Lock()
	delete(t.runs, runID)
	t.mu.Unlock()

	if err != nil {
		t.logger.Error("Failed to persist run finalization", "runId", runID, "status", status, "error", err)
		return &run, fmt.Errorf("failed to finalize run: %w", err)
	}

	eventType := events.ExecutionCompleted
	switch status {
	case workflow.RunFailed:
		eventType = events.ExecutionFailed
	case workflow.RunCancelled:
		eventType = events.ExecutionCancelled
	}
	t.publish(ctx, events.NewEventBuilder(eventType).
		WithAggregateID(runID).
		WithAggregateType("run").
		WithCorrelationID(run.WorkflowID).
		WithPayload("status", string(status)).
		WithPayload("duration", ms).
		WithPayload("error", errMsg).
		Build())
	t.publishLiveRun(ctx, run)

	t.logger.Info("Run finalized", "runId", runID, "status", status, "duration", ms)
	return &run, nil
}

func (t *Tracker) finalizeMiss(ctx context.Context, runID string) error {
	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, workflow.ErrRunNotFound) {
			return workflow.ErrRunNotFound
		}
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run.Status.Terminal() {
		return workflow.ErrRunAlreadyFinalized
	}
	// Persisted as running but not tracked here: owned by another process or orphaned.
	return &workflow.SchedulerInvariantViolation{RunID: runID, Msg: "finalize on run not tracked by this process"}
}

// Snapshot returns the in-memory state of an in-flight run.
func (t *Tracker) Snapshot(runID string) (*workflow.RunDetail, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.runs[runID]
	if !ok || state.finalized {
		return nil, false
	}
	detail := &workflow.RunDetail{ExecutionRun: state.run, Nodes: make([]workflow.NodeExecution, 0, len(state.order))}
	for _, id := range state.order {
		detail.Nodes = append(detail.Nodes, *state.nodes[id])
	}
	return detail, true
}

// NodeStatus returns the current status of a node in an in-flight run.
func (t *Tracker) NodeStatus(runID, nodeID string) (workflow.NodeStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.runs[runID]
	if !ok {
		return "", false
	}
	ne, ok := state.nodes[nodeID]
	if !ok {
		return "", false
	}
	return ne.Status, true
}

// Watch streams transitions of an in-flight run. The channel is closed when
// the run is finalized or stop is called. Slow readers lose transitions.
func (t *Tracker) Watch(runID string) (<-chan Transition, func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.runs[runID]
	if !ok || state.finalized {
		return nil, func() {}, false
	}
	ch := make(chan Transition, watchBuffer)
	id := state.nextID
	state.nextID++
	state.watchers[id] = ch

	var once sync.Once
	stop := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := state.watchers[id]; ok {
				close(c)
				delete(state.watchers, id)
			}
		})
	}
	return ch, stop, true
}

func (t *Tracker) notifyLocked(state *runState, tr Transition) {
	for _, ch := range state.watchers {
		select {
		case ch <- tr:
		default:
			t.logger.Warn("Dropping transition for slow watcher", "runId", tr.RunID, "nodeId", tr.NodeID)
		}
	}
}

func (t *Tracker) recordNodeMetrics(from workflow.NodeStatus, ne workflow.NodeExecution) {
	if ne.Status == workflow.NodeRunning {
		metrics.NodesInFlight.Inc()
		return
	}
	if from == workflow.NodeRunning {
		metrics.NodesInFlight.Dec()
	}
	metrics.RecordNodeExecution(string(ne.NodeType), string(ne.Status))
	if ne.DurationMs != nil {
		metrics.RecordNodeDuration(string(ne.NodeType), float64(*ne.DurationMs)/1000)
	}
}

func (t *Tracker) publish(ctx context.Context, event events.Event) {
	if t.bus == nil {
		return
	}
	err := t.bus.Publish(ctx, event)
	metrics.RecordEventPublished(event.Type, err)
	if err != nil {
		t.logger.Warn("Failed to publish event", "type", event.Type, "runId", event.AggregateID, "error", err)
	}
}

func (t *Tracker) publishLiveRun(ctx context.Context, run workflow.ExecutionRun) {
	if t.live == nil {
		return
	}
	if err := t.live.PublishRun(ctx, run); err != nil {
		t.logger.Warn("Failed to publish live run state", "runId", run.ID, "error", err)
	}
}

func nodeEvent(ne workflow.NodeExecution, workflowID string) events.Event {
	var eventType string
	switch ne.Status {
	case workflow.NodeRunning:
		eventType = events.NodeExecutionStarted
	case workflow.NodeSuccess:
		eventType = events.NodeExecutionCompleted
	case workflow.NodeFailed:
		eventType = events.NodeExecutionFailed
	case workflow.NodeSkipped:
		eventType = events.NodeExecutionSkipped
	default:
		eventType = events.NodeExecutionCancelled
	}
	b := events.NewEventBuilder(eventType).
		WithAggregateID(ne.RunID).
		WithAggregateType("run").
		WithCorrelationID(workflowID).
		WithPayload("nodeId", ne.NodeID).
		WithPayload("nodeType", string(ne.NodeType)).
		WithPayload("status", string(ne.Status))
	if ne.Error != "" {
		b.WithPayload("error", ne.Error)
	}
	if ne.DurationMs != nil {
		b.WithPayload("duration", *ne.DurationMs)
	}
	return b.Build()
}
