package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "streamvault/pkg/logx"
)

// NewRouter assembles the gin engine with all API routes.
func NewRouter(h *Handlers, log logx.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/schedules", h.ListSchedules)
		api.POST("/schedules", h.CreateSchedule)
		api.PUT("/schedules/:id", h.UpdateSchedule)
		api.DELETE("/schedules/:id", h.DeleteSchedule)
		api.POST("/schedules/refresh", h.RefreshSchedules)

		api.POST("/downloads", h.StartDownload)
		api.GET("/downloads", h.ListDownloads)
		api.GET("/downloads/:id", h.GetDownload)
		api.POST("/downloads/:id/stop", h.StopDownload)

		api.GET("/status", h.Status)
		api.GET("/events", h.Events)
	}

	return router
}

func requestLogger(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// The event stream is long-lived; logging it on disconnect is noise.
		if c.FullPath() == "/api/events" {
			return
		}
		log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)))
	}
}
