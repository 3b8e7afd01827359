package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusync/internal/handlers"
)

func registerQueueRoutes(api *gin.RouterGroup, handler *handlers.QueueHandler) {
	q := api.Group("/queue")
	{
		q.GET("", handler.List)
		q.GET("/stats", handler.Stats)
		q.POST("", handler.Enqueue)
		q.POST("/flush", handler.Flush)
		q.DELETE("/:id", handler.Remove)
		q.DELETE("", handler.Clear)
	}
}

func registerNetworkRoutes(api *gin.RouterGroup, handler *handlers.NetworkHandler) {
	api.GET("/network", handler.Get)
	api.PUT("/network", handler.Put)
}
