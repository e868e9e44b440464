package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mkb/internal/middleware"
)

type RouterDeps struct {
	Knowledge      *KnowledgeHandler
	JWTSecret      []byte
	RetrievePerMin int
	RetrieveBurst  int
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))

	authGroup.POST("/collections", deps.Knowledge.CreateCollection)
	authGroup.GET("/collections", deps.Knowledge.ListCollections)
	authGroup.DELETE("/collections/:id", deps.Knowledge.DeleteCollection)
	authGroup.GET("/collections/:id/sources", deps.Knowledge.ListSources)
	authGroup.POST("/collections/:id/files", deps.Knowledge.Upload)
	authGroup.POST("/collections/:id/notes", deps.Knowledge.CreateNote)

	authGroup.PUT("/notes/:id", deps.Knowledge.UpdateNote)
	authGroup.GET("/sources/:id", deps.Knowledge.GetSource)
	authGroup.POST("/sources/:id/reingest", deps.Knowledge.Reingest)
	authGroup.DELETE("/sources/:id", deps.Knowledge.DeleteSource)

	authGroup.POST("/retrieve", middleware.RateLimit(deps.RetrievePerMin, deps.RetrieveBurst), deps.Knowledge.Retrieve)
}
