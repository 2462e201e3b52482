// Package registry maps node types to their executors.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/ports"
	"github.com/weaveflow-go/pkg/logger"
)

// NodeExecutor runs one node type.
type NodeExecutor interface {
	Execute(ctx context.Context, req ports.TaskRequest) (interface{}, error)
}

// NodeRegistry is the TaskExecutor handed to the scheduler. It dispatches
// each request to the executor registered for the node's type.
type NodeRegistry struct {
	executors map[workflow.NodeType]NodeExecutor
	mu        sync.RWMutex
	logger    logger.Logger
}

var _ ports.TaskExecutor = (*NodeRegistry)(nil)

func NewNodeRegistry(log logger.Logger) *NodeRegistry {
	if log == nil {
		log = logger.NewNop()
	}
	return &NodeRegistry{
		executors: make(map[workflow.NodeType]NodeExecutor),
		logger:    log,
	}
}

// Register adds or replaces the executor for a node type.
func (r *NodeRegistry) Register(nodeType workflow.NodeType, executor NodeExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = executor
}

func (r *NodeRegistry) Get(nodeType workflow.NodeType) (NodeExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("unknown node type: %s", nodeType)
	}
	return executor, nil
}

// Has reports whether a node type can be executed. It backs submission validation.
func (r *NodeRegistry) Has(nodeType workflow.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[nodeType]
	return ok
}

// List returns the registered node types, sorted.
func (r *NodeRegistry) List() []workflow.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]workflow.NodeType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (r *NodeRegistry) Execute(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
	executor, err := r.Get(req.NodeType)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Executing node", "runId", req.RunID, "nodeId", req.NodeID, "nodeType", req.NodeType)
	return executor.Execute(ctx, req)
}
