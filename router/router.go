// Package router wires the HTTP surface onto a gin engine.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cheaprelay/cheaprelay/controller"
	"github.com/cheaprelay/cheaprelay/middleware"
	relaycontroller "github.com/cheaprelay/cheaprelay/relay/controller"
)

// SetRouter registers every route on the engine.
func SetRouter(engine *gin.Engine, pipeline *relaycontroller.Pipeline, admin *controller.Admin) {
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger())
	engine.Use(middleware.CORS())

	// OpenAI-compatible surface, with and without the /v1 prefix since
	// clients disagree on whether the base URL includes it.
	for _, group := range []*gin.RouterGroup{engine.Group("/v1"), engine.Group("")} {
		group.POST("/chat/completions", pipeline.ChatCompletions)
		group.GET("/models", pipeline.ListModels)
	}

	api := engine.Group("/api")
	{
		api.GET("/status", admin.GetStatus)
		api.GET("/stats", admin.GetStats)
		api.GET("/activity/stream", admin.StreamActivity)
		api.POST("/feedback", admin.PostFeedback)

		api.GET("/settings", admin.GetSettings)
		api.PUT("/settings", admin.UpdateSettings)

		api.GET("/providers", admin.GetProviders)
		api.POST("/providers", admin.CreateProvider)
		api.PUT("/providers/:id", admin.UpdateProvider)
		api.DELETE("/providers/:id", admin.DeleteProvider)

		api.GET("/models", admin.GetModels)
		api.POST("/models", admin.CreateModel)
		api.PUT("/models/:id", admin.UpdateModel)
		api.DELETE("/models/:id", admin.DeleteModel)

		api.GET("/budget", admin.GetBudgets)
		api.POST("/budget", admin.UpsertBudget)
		api.PUT("/budget", admin.UpsertBudget)
		api.DELETE("/budget/:period", admin.DeleteBudget)
	}

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
