package nodes

import (
	"context"

	"github.com/weaveflow-go/internal/execution/ports"
)

// DataValueExecutor emits one string field of the node's own data. It backs
// text, image upload and video upload nodes, which have no inputs.
type DataValueExecutor struct {
	key string
}

func NewDataValueExecutor(key string) *DataValueExecutor {
	return &DataValueExecutor{key: key}
}

func (e *DataValueExecutor) Execute(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
	return dataString(req.NodeData, e.key), nil
}
