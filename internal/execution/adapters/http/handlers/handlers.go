package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/app/engine"
	"github.com/weaveflow-go/internal/execution/app/tracker"
	"github.com/weaveflow-go/pkg/logger"
)

// RunService is the engine surface the HTTP API needs.
type RunService interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (*engine.Run, error)
	Cancel(runID string) error
	GetRun(ctx context.Context, runID string) (*workflow.RunDetail, error)
	History(ctx context.Context, workflowID string, limit int) ([]workflow.RunDetail, error)
	Watch(runID string) (<-chan tracker.Transition, func(), bool)
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

type RunHandlers struct {
	service RunService
	checks  map[string]ReadinessCheck
	logger  logger.Logger
}

func NewRunHandlers(service RunService, checks map[string]ReadinessCheck, log logger.Logger) *RunHandlers {
	return &RunHandlers{
		service: service,
		checks:  checks,
		logger:  log,
	}
}

func (h *RunHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *RunHandlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *RunHandlers) SubmitRun(c *gin.Context) {
	var req engine.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"runId":      run.ID,
		"workflowId": run.WorkflowID,
		"status":     workflow.RunRunning,
	})
}

func (h *RunHandlers) GetRun(c *gin.Context) {
	detail, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *RunHandlers) CancelRun(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Cancel(id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": id, "status": "cancelling"})
}

func (h *RunHandlers) ListWorkflowRuns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	runs, err := h.service.History(c.Request.Context(), c.Param("workflowId"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *RunHandlers) writeError(c *gin.Context, err error) {
	var graphErr *workflow.GraphError
	switch {
	case errors.As(err, &graphErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": graphErr.Code, "nodeIds": graphErr.NodeIDs})
	case errors.Is(err, workflow.ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrRunAlreadyFinalized):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrEngineStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
