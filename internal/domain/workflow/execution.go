package workflow

import (
	"time"
)

// RunStatus is the lifecycle status of an ExecutionRun.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed || s == RunCancelled
}

// NodeStatus is the lifecycle status of a NodeExecution.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeSuccess   NodeStatus = "success"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
	NodeCancelled NodeStatus = "cancelled"
)

func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeSuccess, NodeFailed, NodeSkipped, NodeCancelled:
		return true
	}
	return false
}

// validNodeTransitions lists the statuses each node status may move to.
var validNodeTransitions = map[NodeStatus][]NodeStatus{
	NodePending: {NodeRunning, NodeSkipped, NodeCancelled},
	NodeRunning: {NodeSuccess, NodeFailed, NodeCancelled},
}

// CanTransition reports whether a node may move from one status to another.
func CanTransition(from, to NodeStatus) bool {
	for _, s := range validNodeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ExecutionRun is one invocation of the engine over a node subset.
type ExecutionRun struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflowId"`
	Scope      Scope      `json:"scope"`
	Status     RunStatus  `json:"status"`
	NodeCount  int        `json:"nodeCount"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	DurationMs *int64     `json:"duration,omitempty"`
	Error      string     `json:"error,omitempty"`
	// OwnerID names the process executing the run. HeartbeatAt is renewed
	// by that process while the run is in flight.
	OwnerID     string     `json:"ownerId,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeatAt,omitempty"`
}

// NodeExecution records one node's execution within a run.
type NodeExecution struct {
	ID         string                 `json:"id"`
	RunID      string                 `json:"runId"`
	NodeID     string                 `json:"nodeId"`
	NodeType   NodeType               `json:"nodeType"`
	Status     NodeStatus             `json:"status"`
	Inputs     map[string]interface{} `json:"inputs,omitempty"`
	Outputs    map[string]interface{} `json:"outputs,omitempty"`
	Error      string                 `json:"error,omitempty"`
	StartedAt  *time.Time             `json:"startedAt,omitempty"`
	EndedAt    *time.Time             `json:"endedAt,omitempty"`
	DurationMs *int64                 `json:"duration,omitempty"`
}

// NodePatch is a partial update of a NodeExecution. Nil fields are left untouched.
type NodePatch struct {
	Status     NodeStatus
	Inputs     map[string]interface{}
	Outputs    map[string]interface{}
	Error      *string
	StartedAt  *time.Time
	EndedAt    *time.Time
	DurationMs *int64
}

// Apply copies the set fields of p onto ne.
func (p NodePatch) Apply(ne *NodeExecution) {
	if p.Status != "" {
		ne.Status = p.Status
	}
	if p.Inputs != nil {
		ne.Inputs = p.Inputs
	}
	if p.Outputs != nil {
		ne.Outputs = p.Outputs
	}
	if p.Error != nil {
		ne.Error = *p.Error
	}
	if p.StartedAt != nil {
		ne.StartedAt = p.StartedAt
	}
	if p.EndedAt != nil {
		ne.EndedAt = p.EndedAt
	}
	if p.DurationMs != nil {
		ne.DurationMs = p.DurationMs
	}
}

// RunDetail is a run together with its node executions.
type RunDetail struct {
	ExecutionRun
	Nodes []NodeExecution `json:"nodeExecutions"`
}

// ResultOutputs wraps a node output in the stored outputs shape.
func ResultOutputs(output interface{}) map[string]interface{} {
	return map[string]interface{}{"result": output}
}
