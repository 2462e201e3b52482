package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func text(id string) Node  { return Node{ID: id, Type: NodeTypeText} }
func llm(id string) Node   { return Node{ID: id, Type: NodeTypeLLM} }
func image(id string) Node { return Node{ID: id, Type: NodeTypeUploadImage} }
func crop(id string) Node  { return Node{ID: id, Type: NodeTypeCropImage} }
func video(id string) Node { return Node{ID: id, Type: NodeTypeUploadVideo} }

func TestValidateEdge(t *testing.T) {
	tests := []struct {
		name    string
		edge    Edge
		source  Node
		target  Node
		wantErr bool
	}{
		{"text to user prompt", Edge{Source: "t", Target: "l", SourceHandle: HandleTextOut, TargetHandle: HandleUserIn}, text("t"), llm("l"), false},
		{"text to system prompt", Edge{Source: "t", Target: "l", SourceHandle: HandleTextOut, TargetHandle: HandleSystemIn}, text("t"), llm("l"), false},
		{"image to llm images", Edge{Source: "i", Target: "l", SourceHandle: HandleImageOut, TargetHandle: HandleImagesIn}, image("i"), llm("l"), false},
		{"image to crop", Edge{Source: "i", Target: "c", SourceHandle: HandleImageOut, TargetHandle: HandleImageIn}, image("i"), crop("c"), false},
		{"video to crop", Edge{Source: "v", Target: "c", SourceHandle: HandleVideoOut, TargetHandle: HandleImageIn}, video("v"), crop("c"), true},
		{"text to images", Edge{Source: "t", Target: "l", SourceHandle: HandleTextOut, TargetHandle: HandleImagesIn}, text("t"), llm("l"), true},
		{"unknown source handle", Edge{Source: "t", Target: "l", SourceHandle: "bogus", TargetHandle: HandleUserIn}, text("t"), llm("l"), true},
		{"text node has no inputs", Edge{Source: "l", Target: "t", SourceHandle: HandleTextOut, TargetHandle: HandleUserIn}, llm("l"), text("t"), true},
		{"self loop", Edge{Source: "l", Target: "l", SourceHandle: HandleTextOut, TargetHandle: HandleUserIn}, llm("l"), llm("l"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEdge(tt.edge, tt.source, tt.target)
			if tt.wantErr {
				assert.True(t, errors.Is(err, &GraphError{Code: InvalidEdge}))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSubmission(t *testing.T) {
	known := func(nt NodeType) bool { return nt.Valid() }

	t.Run("empty scope", func(t *testing.T) {
		err := ValidateSubmission(ScopeFull, nil, nil, known)
		assert.ErrorIs(t, err, &GraphError{Code: EmptyScope})
	})

	t.Run("invalid scope", func(t *testing.T) {
		err := ValidateSubmission("most", []Node{text("a")}, nil, known)
		assert.ErrorIs(t, err, &GraphError{Code: InvalidScope})
	})

	t.Run("single needs one node", func(t *testing.T) {
		err := ValidateSubmission(ScopeSingle, []Node{text("a"), text("b")}, nil, known)
		assert.ErrorIs(t, err, &GraphError{Code: InvalidScope})
	})

	t.Run("duplicate", func(t *testing.T) {
		err := ValidateSubmission(ScopeFull, []Node{text("a"), text("a")}, nil, known)
		var ge *GraphError
		require.ErrorAs(t, err, &ge)
		assert.Equal(t, DuplicateNode, ge.Code)
		assert.Equal(t, []string{"a"}, ge.NodeIDs)
	})

	t.Run("unknown type", func(t *testing.T) {
		err := ValidateSubmission(ScopeFull, []Node{{ID: "x", Type: "webhookNode"}}, nil, known)
		assert.ErrorIs(t, err, &GraphError{Code: UnknownNodeType})
		assert.Contains(t, err.Error(), "unknown node type: webhookNode")
	})

	t.Run("out of subset edges are ignored", func(t *testing.T) {
		edges := []Edge{{Source: "outside", Target: "l", SourceHandle: "whatever", TargetHandle: HandleUserIn}}
		assert.NoError(t, ValidateSubmission(ScopePartial, []Node{llm("l")}, edges, known))
	})

	t.Run("incompatible in-subset edge", func(t *testing.T) {
		edges := []Edge{{Source: "v", Target: "l", SourceHandle: HandleVideoOut, TargetHandle: HandleUserIn}}
		err := ValidateSubmission(ScopeFull, []Node{video("v"), llm("l")}, edges, known)
		assert.ErrorIs(t, err, &GraphError{Code: InvalidEdge})
	})
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(NodePending, NodeRunning))
	assert.True(t, CanTransition(NodePending, NodeSkipped))
	assert.True(t, CanTransition(NodePending, NodeCancelled))
	assert.True(t, CanTransition(NodeRunning, NodeSuccess))
	assert.True(t, CanTransition(NodeRunning, NodeFailed))
	assert.True(t, CanTransition(NodeRunning, NodeCancelled))

	assert.False(t, CanTransition(NodePending, NodeSuccess))
	assert.False(t, CanTransition(NodeRunning, NodeSkipped))
	assert.False(t, CanTransition(NodeSuccess, NodeRunning))
	assert.False(t, CanTransition(NodeFailed, NodeFailed))
}

func TestDefinitionSubset(t *testing.T) {
	d := Definition{Nodes: []Node{text("a"), text("b"), text("c")}}
	nodes, missing := d.Subset([]string{"c", "a", "zz"})
	assert.Equal(t, []Node{text("c"), text("a")}, nodes)
	assert.Equal(t, []string{"zz"}, missing)
}

func TestNodePatchApply(t *testing.T) {
	ne := NodeExecution{Status: NodePending}
	msg := "boom"
	NodePatch{Status: NodeFailed, Error: &msg}.Apply(&ne)
	assert.Equal(t, NodeFailed, ne.Status)
	assert.Equal(t, "boom", ne.Error)
	assert.Nil(t, ne.Inputs)
}
