package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/sullysaurus/venues/internal/http/handlers"
	httpMW "github.com/sullysaurus/venues/internal/http/middleware"
)

type RouterConfig struct {
	PipelineHandler *httpH.PipelineHandler
	VenueHandler    *httpH.VenueHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.PipelineHandler != nil {
			api.POST("/pipelines", cfg.PipelineHandler.Start)
			api.GET("/pipelines/:run_id", cfg.PipelineHandler.Progress)
			api.GET("/pipelines/:run_id/result", cfg.PipelineHandler.Result)
			api.POST("/pipelines/:run_id/cancel", cfg.PipelineHandler.Cancel)
		}

		if cfg.VenueHandler != nil {
			api.POST("/venues", cfg.VenueHandler.Create)
			api.GET("/venues", cfg.VenueHandler.List)
			api.GET("/venues/:id", cfg.VenueHandler.Get)
			api.PUT("/venues/:id", cfg.VenueHandler.Update)
			api.DELETE("/venues/:id", cfg.VenueHandler.Delete)
			api.GET("/venues/:id/runs", cfg.VenueHandler.ListRuns)
		}
	}

	return r
}
