package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stackmelt/cargohold/internal/models"
	"github.com/stackmelt/cargohold/internal/services"
)

// HistoryHandler serves the append-only job log.
type HistoryHandler struct {
	history *services.HistoryService
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(history *services.HistoryService) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// List returns history entries filtered by target and date range.
// GET /api/history?target=&since=&until=&limit=&offset=
func (h *HistoryHandler) List(c *gin.Context) {
	q := models.HistoryQuery{
		Target: c.Query("target"),
	}

	if v := c.Query("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		q.Since = &ts
	}
	if v := c.Query("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "until must be RFC3339"})
			return
		}
		q.Until = &ts
	}
	q.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	q.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.history.Query(q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query history"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Get returns the history entry for one job id.
// GET /api/history/:job_id
func (h *HistoryHandler) Get(c *gin.Context) {
	entry, err := h.history.ByJobID(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}
