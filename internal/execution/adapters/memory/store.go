// Package memory is a process-local RunStore for the CLI and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/ports"
)

type Store struct {
	mu    sync.RWMutex
	runs  map[string]workflow.ExecutionRun
	nodes map[string][]*workflow.NodeExecution
}

var (
	_ ports.RunStore     = (*Store)(nil)
	_ ports.OrphanFinder = (*Store)(nil)
	_ ports.LeaseRenewer = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		runs:  make(map[string]workflow.ExecutionRun),
		nodes: make(map[string][]*workflow.NodeExecution),
	}
}

func (s *Store) CreateRun(ctx context.Context, run *workflow.ExecutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("%w: %s", workflow.ErrRunAlreadyExists, run.ID)
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *Store) CreateNodeExecutions(ctx context.Context, execs []workflow.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check the whole batch before inserting so a failure leaves no rows.
	seen := make(map[string]bool, len(execs))
	for _, ne := range execs {
		if _, ok := s.runs[ne.RunID]; !ok {
			return fmt.Errorf("%w: %s", workflow.ErrRunNotFound, ne.RunID)
		}
		key := ne.RunID + "/" + ne.NodeID
		if seen[key] {
			return fmt.Errorf("node execution %s already exists", key)
		}
		seen[key] = true
		for _, existing := range s.nodes[ne.RunID] {
			if existing.NodeID == ne.NodeID {
				return fmt.Errorf("node execution %s already exists", key)
			}
		}
	}

	for i := range execs {
		ne := execs[i]
		s.nodes[ne.RunID] = append(s.nodes[ne.RunID], &ne)
	}
	return nil
}

func (s *Store) UpdateNodeExecution(ctx context.Context, runID, nodeID string, patch workflow.NodePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ne := range s.nodes[runID] {
		if ne.NodeID == nodeID {
			patch.Apply(ne)
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", workflow.ErrNodeExecutionNotFound, runID, nodeID)
}

func (s *Store) FinalizeRun(ctx context.Context, runID string, status workflow.RunStatus, endedAt time.Time, durationMs int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrRunNotFound, runID)
	}
	if run.Status.Terminal() {
		return workflow.ErrRunAlreadyFinalized
	}
	run.Status = status
	run.EndedAt = &endedAt
	run.DurationMs = &durationMs
	run.Error = errMsg
	s.runs[runID] = run
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*workflow.ExecutionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, workflow.ErrRunNotFound
	}
	return &run, nil
}

func (s *Store) ListNodeExecutions(ctx context.Context, runID string) ([]workflow.NodeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]workflow.NodeExecution, 0, len(s.nodes[runID]))
	for _, ne := range s.nodes[runID] {
		out = append(out, *ne)
	}
	return out, nil
}

func (s *Store) ListRuns(ctx context.Context, workflowID string, limit int) ([]workflow.ExecutionRun, error) {
	if limit <= 0 {
		limit = ports.DefaultHistoryLimit
	}

	s.mu.RLock()
	out := make([]workflow.ExecutionRun, 0)
	for _, run := range s.runs {
		if run.WorkflowID == workflowID {
			out = append(out, run)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListRunning(ctx context.Context) ([]workflow.ExecutionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]workflow.ExecutionRun, 0)
	for _, run := range s.runs {
		if run.Status == workflow.RunRunning {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *Store) RenewLeases(ctx context.Context, ownerID string, runIDs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range runIDs {
		run, ok := s.runs[id]
		if !ok || run.OwnerID != ownerID || run.Status != workflow.RunRunning {
			continue
		}
		heartbeat := at
		run.HeartbeatAt = &heartbeat
		s.runs[id] = run
	}
	return nil
}
