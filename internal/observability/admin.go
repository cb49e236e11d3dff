package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusFunc reports whatever the admin /status route should render.
type StatusFunc func() any

// NewAdminRouter serves /health, /status and /metrics for service.
func NewAdminRouter(service string, logger zerolog.Logger, status StatusFunc) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	started := time.Now()
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger), RequestMetricsMiddleware(service))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(started).String(),
			"component": service,
		})
	})
	router.GET("/status", func(c *gin.Context) {
		if status == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "status not available"})
			return
		}
		c.JSON(http.StatusOK, status())
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
