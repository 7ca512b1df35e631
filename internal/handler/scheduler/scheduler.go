package scheduler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Controller is the scheduler surface exposed over HTTP
type Controller interface {
	Start() error
	Stop() error
	IsRunning() bool
	RunOnce() bool
	GetNextRun() time.Time
	GetLastRun() time.Time
}

// Trigger starts a background fetch cycle
type Trigger interface {
	TriggerFetch(reason string) bool
}

// Start starts the fetch scheduler
func Start(s Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Start(); err != nil {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "scheduler_error",
				Message: err.Error(),
				Code:    http.StatusConflict,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Scheduler started successfully",
			"status":  "running",
		})
	}
}

// Stop stops the fetch scheduler
func Stop(s Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Stop(); err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "scheduler_error",
				Message: "Failed to stop scheduler",
				Code:    http.StatusInternalServerError,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Scheduler stopped successfully",
			"status":  "stopped",
		})
	}
}

// Status returns the current scheduler status
func Status(s Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := "stopped"
		if s.IsRunning() {
			state = "running"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   state,
			"next_run": s.GetNextRun(),
			"last_run": s.GetLastRun(),
		})
	}
}

// RunOnce starts a manual fetch cycle without waiting for it
func RunOnce(s Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusAccepted, FetchResponse{Accepted: s.RunOnce()})
	}
}

// Fetch triggers a fetch cycle. A trigger that arrives while a cycle runs is
// dropped and reported with accepted=false.
func Fetch(t Trigger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reason := c.DefaultQuery("reason", "manual")
		if reason != "manual" && reason != "auto" {
			reason = "manual"
		}
		c.JSON(http.StatusAccepted, FetchResponse{Accepted: t.TriggerFetch(reason)})
	}
}
