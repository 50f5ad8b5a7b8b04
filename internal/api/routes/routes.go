package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"flowcraft/backend/internal/api/handlers"
	"flowcraft/backend/internal/api/middleware"
	"flowcraft/backend/internal/config"
)

func SetupRoutes(cfg *config.Config, h *handlers.Handlers, log logrus.FieldLogger) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORSMiddleware())

	v1 := router.Group("/api/v1")
	{
		// Public routes
		v1.GET("/health", h.HealthCheck)
		v1.GET("/metrics", h.ServeMetrics)

		protected := v1.Group("")
		if cfg.Auth.Enabled {
			protected.Use(middleware.AuthMiddleware([]byte(cfg.Auth.Secret)))
		}
		{
			protected.GET("/ws", h.WebSocket)
			protected.GET("/devices", h.GetDevices)
			protected.GET("/devices/:name", h.GetDevice)

			recording := protected.Group("/recording")
			{
				recording.GET("", h.GetRecording)
				recording.POST("/start", h.StartRecording)
				recording.POST("/stop", h.StopRecording)
				recording.GET("/status", h.GetRecordingStatus)
			}

			playback := protected.Group("/playback")
			{
				playback.POST("/start", h.StartPlayback)
				playback.POST("/stop", h.StopPlayback)
				playback.GET("/status", h.GetPlaybackStatus)
			}

			workflows := protected.Group("/workflows")
			{
				workflows.GET("", h.GetWorkflows)
				workflows.POST("", h.CreateWorkflow)
				workflows.POST("/save-recording", h.SaveRecording)
				workflows.GET("/:id", h.GetWorkflow)
				workflows.PUT("/:id", h.UpdateWorkflow)
				workflows.DELETE("/:id", h.DeleteWorkflow)
				workflows.POST("/:id/duplicate", h.DuplicateWorkflow)
			}

			groups := protected.Group("/groups")
			{
				groups.GET("", h.GetGroups)
				groups.POST("", h.CreateGroup)
				groups.PUT("/:id", h.UpdateGroup)
				groups.DELETE("/:id", h.DeleteGroup)
				groups.POST("/:id/workflows", h.AddToGroup)
			}

			protected.GET("/export", h.Export)
			protected.POST("/import", h.Import)

			schedules := protected.Group("/schedules")
			{
				schedules.GET("", h.GetSchedules)
				schedules.POST("", h.SaveSchedule)
				schedules.DELETE("/:id", h.DeleteSchedule)
			}
		}
	}

	return router
}
