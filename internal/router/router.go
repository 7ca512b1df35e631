package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"helpdesk-ingest-go/internal/broadcast"
	"helpdesk-ingest-go/internal/handler"
)

// RequestIDHeader carries the request ID in and out
const RequestIDHeader = "X-Request-ID"

// Options configure the router around the API handlers
type Options struct {
	// Hub enables the /ws live update endpoint when set
	Hub *broadcast.Hub
	// AllowedOrigins are host patterns accepted for websocket upgrades
	AllowedOrigins []string
}

// SetupRouter configures the Gin router with routes and middleware
func SetupRouter(h *handler.Handlers, opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(accessLog())

	if opts.Hub != nil {
		r.GET("/ws", gin.WrapH(broadcast.NewServer(opts.Hub, opts.AllowedOrigins)))
	}
	h.SetupRoutes(r)
	return r
}

// requestID reuses an incoming request ID or assigns a new one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// accessLog writes one logrus entry per request. Requests to /healthz and
// /metrics are logged at debug level.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"user_agent": c.Request.UserAgent(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}

		switch {
		case c.Writer.Status() >= 500:
			entry.Error("HTTP request failed")
		case c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics":
			entry.Debug("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	}
}
