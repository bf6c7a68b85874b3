// Package handlers implements the HTTP control surface over the engine.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackmelt/cargohold/internal/models"
	"github.com/stackmelt/cargohold/internal/services"
	"github.com/stackmelt/cargohold/internal/validation"
)

// JobHandler exposes manual triggers, job inspection and cancellation.
type JobHandler struct {
	engine *services.Engine
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(engine *services.Engine) *JobHandler {
	return &JobHandler{engine: engine}
}

// TriggerRequest is the payload for a manual backup trigger.
type TriggerRequest struct {
	Target string         `json:"target"`
	Kind   models.JobKind `json:"kind"`
}

// Trigger starts a backup job.
// POST /api/jobs
func (h *JobHandler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Kind == "" {
		req.Kind = models.KindProject
	}
	if req.Kind == models.KindProject {
		if err := validation.ValidateTarget(req.Target); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	job, err := h.engine.TriggerBackup(req.Target, req.Kind)
	if err != nil {
		var running *services.JobAlreadyRunningError
		if errors.As(err, &running) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// List returns every job known to this process, newest first.
// GET /api/jobs
func (h *JobHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.ListJobs())
}

// Get returns one job.
// GET /api/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.engine.GetJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// Cancel requests cancellation of a running job. Rejected once the job has
// stopped a container: it must run through restart.
// POST /api/jobs/:id/cancel
func (h *JobHandler) Cancel(c *gin.Context) {
	err := h.engine.Cancel(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "cancellation requested"})
	case errors.Is(err, services.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, services.ErrCancelTooLate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
