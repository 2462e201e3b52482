package workflow

// NodeType is the closed set of node kinds the engine can execute.
type NodeType string

const (
	NodeTypeText         NodeType = "textNode"
	NodeTypeUploadImage  NodeType = "uploadImageNode"
	NodeTypeUploadVideo  NodeType = "uploadVideoNode"
	NodeTypeLLM          NodeType = "llmNode"
	NodeTypeCropImage    NodeType = "cropImageNode"
	NodeTypeExtractFrame NodeType = "extractFrameNode"
)

// AllNodeTypes lists every node type in declaration order.
var AllNodeTypes = []NodeType{
	NodeTypeText,
	NodeTypeUploadImage,
	NodeTypeUploadVideo,
	NodeTypeLLM,
	NodeTypeCropImage,
	NodeTypeExtractFrame,
}

func (t NodeType) Valid() bool {
	for _, nt := range AllNodeTypes {
		if nt == t {
			return true
		}
	}
	return false
}

// Scope says which slice of a workflow a run covers.
type Scope string

const (
	ScopeFull    Scope = "full"
	ScopePartial Scope = "partial"
	ScopeSingle  Scope = "single"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeFull, ScopePartial, ScopeSingle:
		return true
	}
	return false
}

// UnsavedWorkflowID is recorded for runs submitted without a workflow id.
const UnsavedWorkflowID = "unsaved"

// Node is a single unit of work in a workflow graph.
type Node struct {
	ID   string                 `json:"id" yaml:"id"`
	Type NodeType               `json:"type" yaml:"type"`
	Data map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// Edge connects an output handle of Source to an input handle of Target.
type Edge struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle" yaml:"sourceHandle"`
	TargetHandle string `json:"targetHandle" yaml:"targetHandle"`
}

// Definition is a workflow document as stored in a file or sent by a client.
type Definition struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Subset returns the nodes whose ids are listed, in the order given.
// Unknown ids are reported back so callers can reject them.
func (d *Definition) Subset(ids []string) ([]Node, []string) {
	byID := make(map[string]Node, len(d.Nodes))
	for _, n := range d.Nodes {
		byID[n.ID] = n
	}
	nodes := make([]Node, 0, len(ids))
	var missing []string
	for _, id := range ids {
		n, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, missing
}

// String returns data[key] if it is a string, else "".
func (n Node) String(key string) string {
	if n.Data == nil {
		return ""
	}
	s, _ := n.Data[key].(string)
	return s
}
