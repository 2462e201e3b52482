package ports

import (
	"context"

	"github.com/weaveflow-go/internal/domain/workflow"
)

// LiveStatePublisher mirrors in-flight run state to a shared store so other
// processes can read progress without touching the database.
type LiveStatePublisher interface {
	PublishRun(ctx context.Context, run workflow.ExecutionRun) error
	PublishNode(ctx context.Context, runID string, node workflow.NodeExecution) error
}
