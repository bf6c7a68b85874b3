package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/metrics"
	"github.com/stackmelt/cargohold/internal/models"
	"github.com/stackmelt/cargohold/internal/services"
	"github.com/stackmelt/cargohold/internal/version"
)

// StatusHandler reports daemon health: runtime reachability, spool capacity
// and running jobs.
type StatusHandler struct {
	cfg       *config.Config
	discovery services.Discoverer
	engine    *services.Engine
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(cfg *config.Config, discovery services.Discoverer, engine *services.Engine) *StatusHandler {
	return &StatusHandler{cfg: cfg, discovery: discovery, engine: engine}
}

// Status is the status endpoint payload.
type Status struct {
	Version         string              `json:"version"`
	RuntimeOK       bool                `json:"runtime_ok"`
	RuntimeError    string              `json:"runtime_error,omitempty"`
	WorkloadCount   int                 `json:"workload_count"`
	RunningJobs     []*models.BackupJob `json:"running_jobs"`
	Staging         *metrics.SpoolUsage `json:"staging,omitempty"`
	Spool           *metrics.SpoolUsage `json:"spool,omitempty"`
	Host            *metrics.HostInfo   `json:"host"`
	RetentionDays   int                 `json:"retention_days"`
	StorageBackend  string              `json:"storage_backend"`
	ScheduleEnabled bool                `json:"schedule_enabled"`
}

// Get returns the daemon status.
// GET /api/status
func (h *StatusHandler) Get(c *gin.Context) {
	st := Status{
		Version:         version.Version,
		RetentionDays:   h.cfg.Retention.MaxAgeDays,
		StorageBackend:  h.cfg.Storage.Backend,
		ScheduleEnabled: h.cfg.Schedule.IsEnabled(),
		Host:            metrics.GetHostInfo(),
	}

	if err := h.discovery.Ping(c.Request.Context()); err != nil {
		st.RuntimeError = err.Error()
	} else {
		st.RuntimeOK = true
		if workloads, err := h.discovery.Discover(c.Request.Context(), ""); err == nil {
			st.WorkloadCount = len(workloads)
		}
	}

	running := make([]*models.BackupJob, 0)
	for _, job := range h.engine.ListJobs() {
		if !job.Status.Terminal() {
			running = append(running, job)
		}
	}
	st.RunningJobs = running

	if usage, err := metrics.GetSpoolUsage(h.cfg.Staging.Root); err == nil {
		st.Staging = usage
	}
	if usage, err := metrics.GetSpoolUsage(h.cfg.Archive.Dir); err == nil {
		st.Spool = usage
	}

	c.JSON(http.StatusOK, st)
}
