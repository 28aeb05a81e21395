package handlers

import (
	"github.com/gin-gonic/gin"
)

// RouterConfig carries the handlers and middleware mounted by NewRouter.
type RouterConfig struct {
	Health  *HealthHandler
	Stories *StoriesHandler

	// Global middleware, applied in order before any route.
	Middleware []gin.HandlerFunc
	// Auth guards every /api/v1 route.
	Auth gin.HandlerFunc
	// GenerateLimit runs after Auth on POST /stories/generate. Optional.
	GenerateLimit gin.HandlerFunc

	// AssetDir, when set, is served under /assets.
	AssetDir string
}

func NewRouter(rc RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(rc.Middleware...)

	router.GET("/health", rc.Health.Health)
	if rc.AssetDir != "" {
		router.Static("/assets", rc.AssetDir)
	}

	api := router.Group("/api/v1")
	if rc.Auth != nil {
		api.Use(rc.Auth)
	}

	generate := []gin.HandlerFunc{}
	if rc.GenerateLimit != nil {
		generate = append(generate, rc.GenerateLimit)
	}
	generate = append(generate, rc.Stories.Generate)

	api.POST("/stories/generate", generate...)
	api.GET("/stories", rc.Stories.ListStories)
	api.GET("/stories/:job_id", rc.Stories.GetStory)
	api.GET("/stories/:job_id/status", rc.Stories.GetStatus)
	api.GET("/stories/:job_id/events", rc.Stories.Events)
	api.GET("/entitlement", rc.Stories.GetEntitlement)

	return router
}
