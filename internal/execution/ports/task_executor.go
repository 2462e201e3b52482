package ports

import (
	"context"

	"github.com/weaveflow-go/internal/domain/workflow"
)

// TaskRequest carries everything an executor needs to run one node.
type TaskRequest struct {
	RunID    string
	NodeID   string
	NodeType workflow.NodeType
	NodeData map[string]interface{}
	// Inputs maps a target handle to the upstream result. Multi-input
	// handles carry a []interface{} in edge order.
	Inputs map[string]interface{}
}

// TaskExecutor runs the type-specific logic of a node.
type TaskExecutor interface {
	Execute(ctx context.Context, req TaskRequest) (interface{}, error)
}

// TaskExecutorFunc adapts a function to TaskExecutor.
type TaskExecutorFunc func(ctx context.Context, req TaskRequest) (interface{}, error)

func (f TaskExecutorFunc) Execute(ctx context.Context, req TaskRequest) (interface{}, error) {
	return f(ctx, req)
}
