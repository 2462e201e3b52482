// Package repository is the gorm-backed RunStore used by the server.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/ports"
	"github.com/weaveflow-go/pkg/database"
)

type RunRepository struct {
	db *database.DB
}

var (
	_ ports.RunStore     = (*RunRepository)(nil)
	_ ports.OrphanFinder = (*RunRepository)(nil)
	_ ports.LeaseRenewer = (*RunRepository)(nil)
)

func NewRunRepository(db *database.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) CreateRun(ctx context.Context, run *workflow.ExecutionRun) error {
	err := r.db.WithContext(ctx).Create(runToModel(run)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", workflow.ErrRunAlreadyExists, run.ID)
	}
	return err
}

func (r *RunRepository) CreateNodeExecutions(ctx context.Context, execs []workflow.NodeExecution) error {
	if len(execs) == 0 {
		return nil
	}
	rows := make([]NodeExecutionModel, len(execs))
	for i := range execs {
		rows[i] = nodeToModel(&execs[i], i)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, 100).Error
	})
}

func (r *RunRepository) UpdateNodeExecution(ctx context.Context, runID, nodeID string, patch workflow.NodePatch) error {
	var row NodeExecutionModel
	var cols []string
	if patch.Status != "" {
		row.Status = string(patch.Status)
		cols = append(cols, "status")
	}
	if patch.Inputs != nil {
		row.Inputs = patch.Inputs
		cols = append(cols, "inputs")
	}
	if patch.Outputs != nil {
		row.Outputs = patch.Outputs
		cols = append(cols, "outputs")
	}
	if patch.Error != nil {
		row.Error = *patch.Error
		cols = append(cols, "error")
	}
	if patch.StartedAt != nil {
		row.StartedAt = patch.StartedAt
		cols = append(cols, "started_at")
	}
	if patch.EndedAt != nil {
		row.EndedAt = patch.EndedAt
		cols = append(cols, "ended_at")
	}
	if patch.DurationMs != nil {
		row.DurationMs = patch.DurationMs
		cols = append(cols, "duration_ms")
	}
	if len(cols) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&NodeExecutionModel{}).
		Where("run_id = ? AND node_id = ?", runID, nodeID).
		Select(cols).
		Updates(&row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", workflow.ErrNodeExecutionNotFound, runID, nodeID)
	}
	return nil
}

// FinalizeRun writes the terminal status once. A second call returns
// ErrRunAlreadyFinalized and leaves the row untouched.
func (r *RunRepository) FinalizeRun(ctx context.Context, runID string, status workflow.RunStatus, endedAt time.Time, durationMs int64, errMsg string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run ExecutionRunModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", runID).
			First(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", workflow.ErrRunNotFound, runID)
			}
			return err
		}
		if workflow.RunStatus(run.Status).Terminal() {
			return workflow.ErrRunAlreadyFinalized
		}

		return tx.Model(&ExecutionRunModel{}).
			Where("id = ? AND status = ?", runID, string(workflow.RunRunning)).
			Updates(map[string]interface{}{
				"status":      string(status),
				"ended_at":    endedAt,
				"duration_ms": durationMs,
				"error":       errMsg,
			}).Error
	})
}

func (r *RunRepository) GetRun(ctx context.Context, runID string) (*workflow.ExecutionRun, error) {
	var row ExecutionRunModel
	err := r.db.WithContext(ctx).Where("id = ?", runID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	run := row.toDomain()
	return &run, nil
}

func (r *RunRepository) ListNodeExecutions(ctx context.Context, runID string) ([]workflow.NodeExecution, error) {
	var rows []NodeExecutionModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]workflow.NodeExecution, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (r *RunRepository) ListRuns(ctx context.Context, workflowID string, limit int) ([]workflow.ExecutionRun, error) {
	if limit <= 0 {
		limit = ports.DefaultHistoryLimit
	}
	var rows []ExecutionRunModel
	if err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]workflow.ExecutionRun, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// ListRunning returns runs persisted as running, e.g. left behind by a crash.
func (r *RunRepository) ListRunning(ctx context.Context) ([]workflow.ExecutionRun, error) {
	var rows []ExecutionRunModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(workflow.RunRunning)).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]workflow.ExecutionRun, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// RenewLeases sets heartbeat_at on the owner's running runs among runIDs.
func (r *RunRepository) RenewLeases(ctx context.Context, ownerID string, runIDs []string, at time.Time) error {
	if len(runIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&ExecutionRunModel{}).
		Where("id IN ? AND owner_id = ? AND status = ?", runIDs, ownerID, string(workflow.RunRunning)).
		Update("heartbeat_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to renew run leases: %w", err)
	}
	return nil
}
