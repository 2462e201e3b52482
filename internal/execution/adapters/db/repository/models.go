package repository

import (
	"time"

	"github.com/weaveflow-go/internal/domain/workflow"
)

// ExecutionRunModel is the execution_runs row.
type ExecutionRunModel struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	WorkflowID string `gorm:"index:idx_runs_workflow_started,priority:1;not null"`
	Scope      string `gorm:"type:varchar(16);not null"`
	Status     string `gorm:"type:varchar(16);index;not null"`
	NodeCount  int
	StartedAt  time.Time `gorm:"index:idx_runs_workflow_started,priority:2,sort:desc;not null"`
	EndedAt    *time.Time
	DurationMs *int64
	Error      string `gorm:"type:text"`
	OwnerID    string `gorm:"type:varchar(128);index"`
	// HeartbeatAt is renewed by the owner while the run executes.
	HeartbeatAt *time.Time
}

func (ExecutionRunModel) TableName() string {
	return "execution_runs"
}

// NodeExecutionModel is the node_executions row.
type NodeExecutionModel struct {
	ID       string `gorm:"primaryKey;type:varchar(36)"`
	RunID    string `gorm:"uniqueIndex:idx_node_exec_run_node,priority:1;not null"`
	NodeID   string `gorm:"uniqueIndex:idx_node_exec_run_node,priority:2;not null"`
	NodeType string `gorm:"type:varchar(32);not null"`
	// Position keeps rows in submission order.
	Position   int
	Status     string                 `gorm:"type:varchar(16);not null"`
	Inputs     map[string]interface{} `gorm:"serializer:json"`
	Outputs    map[string]interface{} `gorm:"serializer:json"`
	Error      string                 `gorm:"type:text"`
	StartedAt  *time.Time
	EndedAt    *time.Time
	DurationMs *int64
}

func (NodeExecutionModel) TableName() string {
	return "node_executions"
}

// Models lists the tables this package needs migrated.
func Models() []interface{} {
	return []interface{}{&ExecutionRunModel{}, &NodeExecutionModel{}}
}

func runToModel(r *workflow.ExecutionRun) *ExecutionRunModel {
	return &ExecutionRunModel{
		ID:          r.ID,
		WorkflowID:  r.WorkflowID,
		Scope:       string(r.Scope),
		Status:      string(r.Status),
		NodeCount:   r.NodeCount,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		DurationMs:  r.DurationMs,
		Error:       r.Error,
		OwnerID:     r.OwnerID,
		HeartbeatAt: r.HeartbeatAt,
	}
}

func (m *ExecutionRunModel) toDomain() workflow.ExecutionRun {
	return workflow.ExecutionRun{
		ID:          m.ID,
		WorkflowID:  m.WorkflowID,
		Scope:       workflow.Scope(m.Scope),
		Status:      workflow.RunStatus(m.Status),
		NodeCount:   m.NodeCount,
		StartedAt:   m.StartedAt,
		EndedAt:     m.EndedAt,
		DurationMs:  m.DurationMs,
		Error:       m.Error,
		OwnerID:     m.OwnerID,
		HeartbeatAt: m.HeartbeatAt,
	}
}

func nodeToModel(ne *workflow.NodeExecution, position int) NodeExecutionModel {
	return NodeExecutionModel{
		ID:         ne.ID,
		RunID:      ne.RunID,
		NodeID:     ne.NodeID,
		NodeType:   string(ne.NodeType),
		Position:   position,
		Status:     string(ne.Status),
		Inputs:     ne.Inputs,
		Outputs:    ne.Outputs,
		Error:      ne.Error,
		StartedAt:  ne.StartedAt,
		EndedAt:    ne.EndedAt,
		DurationMs: ne.DurationMs,
	}
}

func (m *NodeExecutionModel) toDomain() workflow.NodeExecution {
	return workflow.NodeExecution{
		ID:         m.ID,
		RunID:      m.RunID,
		NodeID:     m.NodeID,
		NodeType:   workflow.NodeType(m.NodeType),
		Status:     workflow.NodeStatus(m.Status),
		Inputs:     m.Inputs,
		Outputs:    m.Outputs,
		Error:      m.Error,
		StartedAt:  m.StartedAt,
		EndedAt:    m.EndedAt,
		DurationMs: m.DurationMs,
	}
}
