package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vigilsec/sentinel/internal/metrics"
)

// NewRouter builds the gin engine with all API routes mounted
func NewRouter(logger *zap.Logger, handler *Handler, collector *metrics.Collector) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy", "service": "sentinel"})
	})

	if collector != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/signals", handler.ingestSignal)

		v1.GET("/events", handler.listEvents)
		v1.GET("/events/:id", handler.getEvent)
		v1.GET("/attack-chains", handler.listAttackChains)

		v1.POST("/intel/check", handler.checkObservable)
		v1.GET("/intel/actors/:name", handler.getActorProfile)

		v1.GET("/incidents", handler.listIncidents)
		v1.GET("/incidents/:id", handler.getIncident)
		v1.POST("/incidents/:id/acknowledge", handler.acknowledgeIncident)
		v1.POST("/incidents/:id/investigate", handler.investigateIncident)
		v1.POST("/incidents/:id/contain", handler.containIncident)
		v1.POST("/incidents/:id/resolve", handler.resolveIncident)
		v1.POST("/incidents/:id/close", handler.closeIncident)
		v1.POST("/incidents/:id/escalate", handler.escalateIncident)

		v1.GET("/playbooks", handler.listPlaybooks)
		v1.POST("/playbooks", handler.registerPlaybook)
		v1.POST("/playbooks/:name/execute", handler.executePlaybook)
		v1.GET("/playbooks/:name/runs", handler.listPlaybookRuns)
	}

	return router
}

// requestLogger logs each request with latency and status
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
