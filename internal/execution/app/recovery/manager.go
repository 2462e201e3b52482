// Package recovery closes runs left running by a process that stopped
// before finalizing them.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/ports"
	"github.com/weaveflow-go/pkg/events"
	"github.com/weaveflow-go/pkg/logger"
)

// InterruptedMsg is recorded on runs and nodes closed by the manager.
const InterruptedMsg = "interrupted: process stopped before the run finished"

type Store interface {
	ports.RunStore
	ports.OrphanFinder
}

// DefaultLeaseTTL is how long a run's heartbeat stays valid when no TTL is configured.
const DefaultLeaseTTL = time.Minute

type Manager struct {
	store    Store
	eventBus events.EventBus
	logger   logger.Logger
	owner    string
	leaseTTL time.Duration
	now      func() time.Time
}

type Option func(*Manager)

// WithOwner lets the manager close runs left by a previous life of this
// process without waiting for their lease to expire.
func WithOwner(id string) Option {
	return func(m *Manager) { m.owner = id }
}

// WithLeaseTTL sets how stale a peer's heartbeat must be before its run is closed.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.leaseTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, eventBus events.EventBus, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		eventBus: eventBus,
		logger:   log,
		leaseTTL: DefaultLeaseTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Recover finalizes runs persisted as running that no live process owns:
// runs stamped with this manager's owner, unowned runs, and runs whose
// heartbeat is older than the lease TTL. It must run before the engine
// accepts submissions, since this process's new runs carry the same owner.
// Returns the number of runs closed.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	runs, err := m.store.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running runs: %w", err)
	}
	if len(runs) == 0 {
		return 0, nil
	}

	m.logger.Info("Checking running runs for recovery", "count", len(runs))

	closed := 0
	now := m.now()
	for _, run := range runs {
		if !m.abandoned(run, now) {
			m.logger.Debug("Run still leased by a live owner", "runId", run.ID, "owner", run.OwnerID)
			continue
		}
		if err := m.closeRun(ctx, run); err != nil {
			if errors.Is(err, workflow.ErrRunAlreadyFinalized) {
				continue
			}
			m.logger.Error("Failed to close interrupted run", "runId", run.ID, "error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

func (m *Manager) abandoned(run workflow.ExecutionRun, now time.Time) bool {
	if run.OwnerID == "" || run.HeartbeatAt == nil {
		return true
	}
	if m.owner != "" && run.OwnerID == m.owner {
		return true
	}
	return now.Sub(*run.HeartbeatAt) > m.leaseTTL
}

func (m *Manager) closeRun(ctx context.Context, run workflow.ExecutionRun) error {
	nodes, err := m.store.ListNodeExecutions(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to list node executions: %w", err)
	}

	now := m.now()
	msg := InterruptedMsg
	for _, ne := range nodes {
		if ne.Status.Terminal() {
			continue
		}
		patch := workflow.NodePatch{Status: workflow.NodeCancelled, Error: &msg, EndedAt: &now}
		if ne.StartedAt != nil {
			ms := now.Sub(*ne.StartedAt).Milliseconds()
			patch.DurationMs = &ms
		}
		if err := m.store.UpdateNodeExecution(ctx, run.ID, ne.NodeID, patch); err != nil {
			return fmt.Errorf("failed to cancel node %s: %w", ne.NodeID, err)
		}
	}

	ms := now.Sub(run.StartedAt).Milliseconds()
	if err := m.store.FinalizeRun(ctx, run.ID, workflow.RunFailed, now, ms, InterruptedMsg); err != nil {
		return err
	}

	m.logger.Warn("Closed interrupted run", "runId", run.ID, "workflowId", run.WorkflowID)

	if m.eventBus != nil {
		event := events.NewEventBuilder(events.ExecutionFailed).
			WithAggregateID(run.ID).
			WithAggregateType("run").
			WithCorrelationID(run.WorkflowID).
			WithPayload("status", string(workflow.RunFailed)).
			WithPayload("error", InterruptedMsg).
			Build()
		if err := m.eventBus.Publish(ctx, event); err != nil {
			m.logger.Warn("Failed to publish recovery event", "runId", run.ID, "error", err)
		}
	}
	return nil
}
