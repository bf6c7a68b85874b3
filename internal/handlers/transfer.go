package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackmelt/cargohold/internal/models"
	"github.com/stackmelt/cargohold/internal/services"
	"github.com/stackmelt/cargohold/internal/validation"
)

// TransferHandler exposes the archive inventory and the restore entry point.
type TransferHandler struct {
	engine *services.Engine
}

// NewTransferHandler creates a TransferHandler.
func NewTransferHandler(engine *services.Engine) *TransferHandler {
	return &TransferHandler{engine: engine}
}

// ListArchives enumerates archives in the local spool and on the remote.
// GET /api/archives
func (h *TransferHandler) ListArchives(c *gin.Context) {
	local, remote, err := h.engine.ListArchives(c.Request.Context())
	if err != nil {
		// The local listing is still useful when the remote is down.
		c.JSON(http.StatusOK, gin.H{"local": local, "remote": []services.RemoteEntry{}, "remote_error": err.Error()})
		return
	}
	if remote == nil {
		remote = []services.RemoteEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"local": local, "remote": remote})
}

// Restore starts a restore job from a named archive.
// POST /api/restore
func (h *TransferHandler) Restore(c *gin.Context) {
	var req models.RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := validation.ValidateArchiveName(req.ArchiveName); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Workload != "" {
		if err := validation.ValidateTarget(req.Workload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := validation.ValidateDestDir(req.DestDir); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.engine.TriggerRestore(req)
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
