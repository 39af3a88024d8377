// Package api serves the job API emulator over HTTP.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"autoeditor/config"
	"autoeditor/monitoring"
	"autoeditor/task"
)

func SetupRouter(tm *task.Manager, cfg *config.Config, logger logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))
	h := NewHandler(tm, cfg, logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(monitoring.MetricsHandler()))

	v := r.Group("/api")
	v.Use(AuthMiddleware(cfg))
	{
		v.POST("/upload", h.handleUpload)
		v.GET("/status/:job_id", h.handleStatus)
		v.GET("/download/:job_id", h.handleDownload)

		v.GET("/jobs", h.handleListJobs)
		v.POST("/cancel/:job_id", h.handleCancel)
		v.POST("/cleanup", h.handleCleanup)
	}
	return r
}
