package api

import (
	"ocr-task-server/internal/middleware"
	"ocr-task-server/internal/services"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes. jwtService may be nil, which leaves the API open.
func SetupRoutes(handlers *Handlers, jwtService *services.JWTService) *gin.Engine {
	router := gin.Default()

	// Add CORS middleware
	router.Use(corsMiddleware())

	// API routes
	api := router.Group("/api")
	api.Use(middleware.JWTAuth(jwtService))
	{
		api.POST("/upload", handlers.UploadHandler)
		api.POST("/start", handlers.StartTaskHandler)
		api.GET("/progress/:taskId", handlers.GetProgressHandler)
		api.GET("/result/:taskId", handlers.GetResultHandler)
		api.GET("/folder", handlers.GetFolderHandler)
		api.GET("/file/content", handlers.GetFileContentHandler)
	}

	// Live progress push
	ws := router.Group("/ws")
	ws.Use(middleware.JWTAuth(jwtService))
	{
		ws.GET("/progress/:taskId", handlers.ProgressWebSocketHandler)
	}

	// Result files
	router.Static("/results", handlers.fileService.ResultsDir())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
