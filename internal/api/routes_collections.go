package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/campusync/internal/handlers"
)

func registerCollectionRoutes(api *gin.RouterGroup, handler *handlers.CollectionHandler) {
	api.GET("/collections", handler.Names)

	collections := api.Group("/collections/:name")
	{
		collections.GET("", handler.List)
		collections.POST("", handler.Create)
		collections.POST("/query", handler.Query)
		collections.GET("/stats", handler.Stats)

		collections.POST("/bulk", handler.BulkCreate)
		collections.PATCH("/bulk", handler.BulkUpdate)
		collections.DELETE("/bulk", handler.BulkDelete)

		collections.GET("/:id", handler.Get)
		collections.PATCH("/:id", handler.Update)
		collections.DELETE("/:id", handler.Delete)
	}
}
