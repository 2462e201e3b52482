package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the run API. submitGuard runs before submissions,
// e.g. a rate limiter; it may be nil.
func RegisterRoutes(router gin.IRouter, h *RunHandlers, submitGuard gin.HandlerFunc) {
	router.GET("/health/live", h.Health)
	router.GET("/health/ready", h.Ready)

	v1 := router.Group("/api/v1")
	{
		submit := []gin.HandlerFunc{h.SubmitRun}
		if submitGuard != nil {
			submit = append([]gin.HandlerFunc{submitGuard}, submit...)
		}
		v1.POST("/runs", submit...)
		v1.GET("/runs/:id", h.GetRun)
		v1.POST("/runs/:id/cancel", h.CancelRun)
		v1.GET("/runs/:id/stream", h.StreamRun)
		v1.GET("/workflows/:workflowId/runs", h.ListWorkflowRuns)
	}
}
