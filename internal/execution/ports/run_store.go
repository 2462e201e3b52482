package ports

import (
	"context"
	"time"

	"github.com/weaveflow-go/internal/domain/workflow"
)

// DefaultHistoryLimit caps ListRuns when the caller passes no limit.
const DefaultHistoryLimit = 50

// RunStore persists ExecutionRun and NodeExecution records.
type RunStore interface {
	CreateRun(ctx context.Context, run *workflow.ExecutionRun) error
	// CreateNodeExecutions inserts pending rows for every node of a run in one batch.
	CreateNodeExecutions(ctx context.Context, execs []workflow.NodeExecution) error
	UpdateNodeExecution(ctx context.Context, runID, nodeID string, patch workflow.NodePatch) error
	FinalizeRun(ctx context.Context, runID string, status workflow.RunStatus, endedAt time.Time, durationMs int64, errMsg string) error

	GetRun(ctx context.Context, runID string) (*workflow.ExecutionRun, error)
	ListNodeExecutions(ctx context.Context, runID string) ([]workflow.NodeExecution, error)
	// ListRuns returns runs of a workflow, newest first.
	ListRuns(ctx context.Context, workflowID string, limit int) ([]workflow.ExecutionRun, error)
}

// OrphanFinder lists runs persisted as running. Stores that outlive the
// process implement it so interrupted runs can be closed on startup.
type OrphanFinder interface {
	ListRunning(ctx context.Context) ([]workflow.ExecutionRun, error)
}

// LeaseRenewer refreshes the heartbeat of running runs owned by ownerID.
// Runs that are not running or belong to another owner are left untouched.
type LeaseRenewer interface {
	RenewLeases(ctx context.Context, ownerID string, runIDs []string, at time.Time) error
}
