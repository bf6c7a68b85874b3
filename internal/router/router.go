// Package router builds the gin route table for the control API.
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stackmelt/cargohold/internal/config"
	"github.com/stackmelt/cargohold/internal/handlers"
	"github.com/stackmelt/cargohold/internal/middleware"
	"github.com/stackmelt/cargohold/internal/services"
	"github.com/stackmelt/cargohold/internal/version"
)

// Deps are the services the API is built over.
type Deps struct {
	Engine    *services.Engine
	Scheduler *services.SchedulerService
	History   *services.HistoryService
	Discovery services.Discoverer
}

// New builds the HTTP API.
func New(cfg *config.Config, log zerolog.Logger, deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.DefaultBodyLimit())

	jobHandler := handlers.NewJobHandler(deps.Engine)
	scheduleHandler := handlers.NewScheduleHandler(deps.Scheduler)
	historyHandler := handlers.NewHistoryHandler(deps.History)
	workloadHandler := handlers.NewWorkloadHandler(deps.Discovery)
	statusHandler := handlers.NewStatusHandler(cfg, deps.Discovery, deps.Engine)
	streamHandler := handlers.NewStreamHandler(deps.Engine)
	watchHandler := handlers.NewWatchHandler(deps.Engine)
	transferHandler := handlers.NewTransferHandler(deps.Engine)

	prefix := r.Group(cfg.Server.PathPrefix)
	api := prefix.Group("/api")

	// Public version endpoint.
	api.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, version.Info())
	})

	protected := api.Group("")
	if cfg.Server.AuthToken != "" {
		protected.Use(middleware.TokenAuth(cfg.Server.AuthToken))
	} else {
		log.Warn().Msg("server.auth_token is empty, API is unauthenticated")
	}

	protected.GET("/status", statusHandler.Get)
	protected.GET("/workloads", workloadHandler.List)

	// Manual triggers are rate limited: a stuck automation retrying into the
	// lock registry should get 429s, not a hot loop of 409s.
	triggerLimit := middleware.NewRateLimiter(30, time.Minute)
	protected.POST("/jobs", triggerLimit.Middleware(), jobHandler.Trigger)
	protected.POST("/restore", triggerLimit.Middleware(), transferHandler.Restore)

	protected.GET("/jobs", jobHandler.List)
	protected.GET("/jobs/:id", jobHandler.Get)
	protected.POST("/jobs/:id/cancel", jobHandler.Cancel)
	protected.GET("/jobs/:id/stream", streamHandler.Stream)
	protected.GET("/jobs/:id/watch", watchHandler.Watch)

	protected.GET("/archives", transferHandler.ListArchives)

	protected.GET("/schedules", scheduleHandler.List)
	protected.POST("/schedules", scheduleHandler.Create)
	protected.GET("/schedules/export", scheduleHandler.Export)
	protected.POST("/schedules/import", scheduleHandler.Import)
	protected.GET("/schedules/:id", scheduleHandler.Get)
	protected.PUT("/schedules/:id", scheduleHandler.Update)
	protected.DELETE("/schedules/:id", scheduleHandler.Delete)

	protected.GET("/history", historyHandler.List)
	protected.GET("/history/:job_id", historyHandler.Get)

	return r
}
