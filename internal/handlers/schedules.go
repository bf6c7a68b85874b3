package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stackmelt/cargohold/internal/models"
	"github.com/stackmelt/cargohold/internal/services"
	"github.com/stackmelt/cargohold/internal/validation"
)

// ScheduleHandler exposes schedule CRUD plus JSON export/import.
type ScheduleHandler struct {
	scheduler *services.SchedulerService
}

// NewScheduleHandler creates a ScheduleHandler.
func NewScheduleHandler(scheduler *services.SchedulerService) *ScheduleHandler {
	return &ScheduleHandler{scheduler: scheduler}
}

// List returns every schedule with its next fire time.
// GET /api/schedules
func (h *ScheduleHandler) List(c *gin.Context) {
	schedules, err := h.scheduler.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list schedules"})
		return
	}

	type scheduleWithNext struct {
		models.Schedule
		NextRun *time.Time `json:"next_run,omitempty"`
	}

	out := make([]scheduleWithNext, 0, len(schedules))
	now := time.Now()
	for _, sch := range schedules {
		item := scheduleWithNext{Schedule: sch}
		if sch.Enabled {
			if next, err := h.scheduler.NextRun(&sch, now); err == nil {
				item.NextRun = &next
			}
		}
		out = append(out, item)
	}

	c.JSON(http.StatusOK, out)
}

// Create registers a schedule.
// POST /api/schedules
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req models.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := validation.ValidateTarget(req.Target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sch, err := h.scheduler.Create(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, sch)
}

// Get returns one schedule.
// GET /api/schedules/:id
func (h *ScheduleHandler) Get(c *gin.Context) {
	sch, err := h.scheduler.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sch)
}

// Update changes expression or enabled flag.
// PUT /api/schedules/:id
func (h *ScheduleHandler) Update(c *gin.Context) {
	var req models.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	sch, err := h.scheduler.Update(c.Param("id"), &req)
	if err != nil {
		if errors.Is(err, services.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sch)
}

// Delete removes a schedule.
// DELETE /api/schedules/:id
func (h *ScheduleHandler) Delete(c *gin.Context) {
	if err := h.scheduler.Delete(c.Param("id")); err != nil {
		if errors.Is(err, services.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "schedule deleted"})
}

// Export dumps all schedules as a portable JSON document.
// GET /api/schedules/export
func (h *ScheduleHandler) Export(c *gin.Context) {
	schedules, err := h.scheduler.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list schedules"})
		return
	}

	backups := make([]models.ScheduleBackup, 0, len(schedules))
	for _, sch := range schedules {
		backups = append(backups, models.ScheduleBackup{
			Target:     sch.Target,
			Kind:       sch.Kind,
			Expression: sch.Expression,
			Enabled:    sch.Enabled,
		})
	}

	c.Header("Content-Disposition", "attachment; filename=schedules.json")
	c.JSON(http.StatusOK, models.ScheduleExport{
		Version:    "1.0",
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Schedules:  backups,
	})
}

// Import creates schedules from an export document, skipping targets that
// already have one.
// POST /api/schedules/import
func (h *ScheduleHandler) Import(c *gin.Context) {
	var export models.ScheduleExport
	if err := c.ShouldBindJSON(&export); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid import data: " + err.Error()})
		return
	}
	if len(export.Schedules) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no schedules found in import"})
		return
	}

	existing, err := h.scheduler.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list schedules"})
		return
	}
	taken := make(map[string]bool, len(existing))
	for _, sch := range existing {
		taken[sch.Target+"/"+string(sch.Kind)] = true
	}

	imported := 0
	skipped := 0
	var importErrors []string
	for _, b := range export.Schedules {
		if taken[b.Target+"/"+string(b.Kind)] {
			skipped++
			continue
		}
		enabled := b.Enabled
		_, err := h.scheduler.Create(&models.CreateScheduleRequest{
			Target:     b.Target,
			Kind:       b.Kind,
			Expression: b.Expression,
			Enabled:    &enabled,
		})
		if err != nil {
			importErrors = append(importErrors, "failed to create schedule for '"+b.Target+"': "+err.Error())
			continue
		}
		imported++
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "import completed",
		"imported": imported,
		"skipped":  skipped,
		"errors":   importErrors,
	})
}
