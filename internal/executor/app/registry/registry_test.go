package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/ports"
)

func TestNodeRegistry_Dispatch(t *testing.T) {
	r := NewNodeRegistry(nil)
	r.Register(workflow.NodeTypeText, ports.TaskExecutorFunc(func(ctx context.Context, req ports.TaskRequest) (interface{}, error) {
		return "from " + req.NodeID, nil
	}))

	assert.True(t, r.Has(workflow.NodeTypeText))
	assert.False(t, r.Has(workflow.NodeTypeLLM))

	out, err := r.Execute(context.Background(), ports.TaskRequest{NodeID: "n1", NodeType: workflow.NodeTypeText})
	require.NoError(t, err)
	assert.Equal(t, "from n1", out)
}

func TestNodeRegistry_UnknownType(t *testing.T) {
	r := NewNodeRegistry(nil)
	_, err := r.Execute(context.Background(), ports.TaskRequest{NodeID: "n1", NodeType: "webhookNode"})
	require.Error(t, err)
	assert.Equal(t, "unknown node type: webhookNode", err.Error())
}

func TestNodeRegistry_ListSorted(t *testing.T) {
	r := NewNodeRegistry(nil)
	noop := ports.TaskExecutorFunc(func(ctx context.Context, req ports.TaskRequest) (interface{}, error) { return nil, nil })
	r.Register(workflow.NodeTypeUploadVideo, noop)
	r.Register(workflow.NodeTypeCropImage, noop)
	r.Register(workflow.NodeTypeLLM, noop)

	assert.Equal(t, []workflow.NodeType{
		workflow.NodeTypeCropImage,
		workflow.NodeTypeLLM,
		workflow.NodeTypeUploadVideo,
	}, r.List())
}
