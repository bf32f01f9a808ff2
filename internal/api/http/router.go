package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(roomController *RoomController, signalingController *SignalingController, allowedOrigins []string) *gin.Engine {
	router := gin.Default()
	config := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	if signalingController != nil {
		router.GET("/ws", signalingController.Connect)
	}

	api := router.Group("/api")

	if roomController != nil {
		rooms := api.Group("/rooms")
		rooms.GET("", roomController.Stats)
		rooms.GET("/:roomID/participants", roomController.ListParticipants)
	}

	return router
}
