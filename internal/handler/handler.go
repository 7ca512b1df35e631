package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"helpdesk-ingest-go/internal/broadcast"
	schedulerHandler "helpdesk-ingest-go/internal/handler/scheduler"
	metricsPkg "helpdesk-ingest-go/internal/metrics"
	"helpdesk-ingest-go/internal/repository"
	"helpdesk-ingest-go/internal/service/mailer"
	schedulerSvc "helpdesk-ingest-go/internal/service/scheduler"
)

// Deps are the collaborators served over HTTP
type Deps struct {
	Repo           *repository.Repository
	Orchestrator   *schedulerSvc.Orchestrator
	Scheduler      *schedulerSvc.Scheduler
	Hub            *broadcast.Hub
	Sender         mailer.Sender
	Metrics        *metricsPkg.Metrics
	MetricsHandler http.Handler
}

// Handlers contains all HTTP handlers
type Handlers struct {
	repo           *repository.Repository
	orchestrator   *schedulerSvc.Orchestrator
	scheduler      *schedulerSvc.Scheduler
	hub            *broadcast.Hub
	notifier       *broadcast.Notifier
	sender         mailer.Sender
	metrics        *metricsPkg.Metrics
	metricsHandler http.Handler
}

// NewHandlers creates new HTTP handlers
func NewHandlers(deps Deps) *Handlers {
	h := &Handlers{
		repo:           deps.Repo,
		orchestrator:   deps.Orchestrator,
		scheduler:      deps.Scheduler,
		hub:            deps.Hub,
		sender:         deps.Sender,
		metrics:        deps.Metrics,
		metricsHandler: deps.MetricsHandler,
	}
	var pub broadcast.Publisher
	if deps.Hub != nil {
		pub = deps.Hub
	}
	h.notifier = broadcast.NewNotifier(pub)
	if h.sender == nil {
		h.sender = mailer.NopSender{}
	}
	if h.metricsHandler == nil {
		h.metricsHandler = promhttp.Handler()
	}
	return h
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(h.metricsHandler))

	api := router.Group("/api/v1")
	{
		api.GET("/mailboxes", h.GetMailboxes)
		api.POST("/mailboxes", h.CreateMailbox)
		api.GET("/mailboxes/health", h.GetMailboxHealth)
		api.GET("/mailboxes/:id", h.GetMailbox)
		api.PUT("/mailboxes/:id", h.UpdateMailbox)
		api.DELETE("/mailboxes/:id", h.DeleteMailbox)
		api.PATCH("/mailboxes/:id/enable", h.EnableMailbox)
		api.PATCH("/mailboxes/:id/disable", h.DisableMailbox)

		api.GET("/cases", h.GetCases)
		api.GET("/cases/priority-stats", h.GetPriorityStats)
		api.GET("/cases/:id", h.GetCase)
		api.POST("/cases/:id/exchanges", h.CreateExchange)
		api.PATCH("/cases/:id/status", h.UpdateCaseStatus)
		api.PATCH("/cases/:id/assign", h.AssignCase)

		api.GET("/ingest-logs", h.GetIngestLogs)
		api.GET("/ingest-logs/:id", h.GetIngestLog)

		api.POST("/fetch", schedulerHandler.Fetch(h.orchestrator))
		api.POST("/scheduler/start", schedulerHandler.Start(h.scheduler))
		api.POST("/scheduler/stop", schedulerHandler.Stop(h.scheduler))
		api.POST("/scheduler/run-once", schedulerHandler.RunOnce(h.scheduler))
		api.GET("/scheduler/status", schedulerHandler.Status(h.scheduler))
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Scheduler: "stopped",
		Details:   make(map[string]string),
	}

	if err := h.repo.Ping(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler.IsRunning() {
		response.Scheduler = "running"
		response.Details["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		response.Details["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	}
	if h.orchestrator.Running() {
		response.Details["fetch"] = "in_progress"
	}
	if last, ok := h.orchestrator.LastReport(); ok {
		response.Details["last_cycle"] = last.FinishedAt.Format(time.RFC3339)
	}
	if h.hub != nil {
		response.Details["broadcast_dropped"] = strconv.FormatUint(h.hub.Dropped(), 10)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func parseID(c *gin.Context, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid " + what + " ID",
			Code:    http.StatusBadRequest,
		})
		return 0, false
	}
	return uint(id), true
}

func pagination(c *gin.Context) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}
	return page, limit, (page - 1) * limit
}

func databaseError(c *gin.Context, message string, err error) {
	logrus.Errorf("%s: %v", message, err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "database_error",
		Message: message,
		Code:    http.StatusInternalServerError,
	})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: message,
		Code:    http.StatusNotFound,
	})
}

func conflict(c *gin.Context, message string) {
	c.JSON(http.StatusConflict, ErrorResponse{
		Error:   "conflict",
		Message: message,
		Code:    http.StatusConflict,
	})
}

func validationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "validation_error",
		Message: "Invalid request body: " + err.Error(),
		Code:    http.StatusBadRequest,
	})
}
