package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackmelt/cargohold/internal/services"
)

// WorkloadHandler lists backup-eligible workloads.
type WorkloadHandler struct {
	discovery services.Discoverer
}

// NewWorkloadHandler creates a WorkloadHandler.
func NewWorkloadHandler(discovery services.Discoverer) *WorkloadHandler {
	return &WorkloadHandler{discovery: discovery}
}

// List enumerates eligible workloads fresh from the container runtime.
// GET /api/workloads
func (h *WorkloadHandler) List(c *gin.Context) {
	workloads, err := h.discovery.Discover(c.Request.Context(), c.Query("project"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, workloads)
}
