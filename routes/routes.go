package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sitepress-engine/controllers"
	"github.com/sitepress-engine/services"
)

// SetupRoutes registers all API routes
func SetupRoutes(router *gin.Engine, worker *services.BuildWorker) {
	healthController := controllers.NewHealthController(worker.Executor().Name())
	buildController := controllers.NewBuildController(worker)
	projectController := controllers.NewProjectController(worker)

	// Public routes
	router.GET("/", healthController.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api")
	{
		projects := api.Group("/projects")
		{
			projects.POST("", projectController.CreateProject)
			projects.GET("", projectController.ListProjects)
			projects.GET("/:id", projectController.GetProject)
			projects.PUT("/:id", projectController.UpdateProject)
			projects.DELETE("/:id", projectController.DeleteProject)
			projects.GET("/:id/deployments", projectController.ListProjectDeployments)
			projects.GET("/:id/active", projectController.GetActiveDeployment)
		}

		builds := api.Group("/builds")
		{
			builds.POST("", buildController.EnqueueBuild)
			builds.GET("/:deploymentId", buildController.GetBuild)
			builds.GET("/:deploymentId/logs", buildController.GetBuildLogs)
			builds.GET("/:deploymentId/logs/stream", buildController.StreamBuildLogs)
			builds.POST("/:deploymentId/cancel", buildController.CancelBuild)
		}

		queue := api.Group("/queue")
		{
			queue.GET("/stats", buildController.GetQueueStats)
		}
	}
}
