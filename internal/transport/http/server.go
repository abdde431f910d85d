package http

import (
	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/bootstrap"
	"gopherai-rag/internal/transport/http/handler"
	"gopherai-rag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger), gin.Recovery())

	checks := make(map[string]handler.Checker)
	for name, check := range app.HealthChecks() {
		checks[name] = check
	}
	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, checks)
	router.GET("/healthz", healthHandler.Check)

	aiHandler := handler.NewAIHandler(app.RAG, app.Chat, app.Config.RAG.UploadDir, app.Config.RAG.DefaultQueryCount, app.Logger)

	aiGroup := router.Group("/api/v1/ai")
	if app.Config.Auth.Enabled {
		aiGroup.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret, app.Logger))
	}
	aiGroup.POST("/upload", aiHandler.Upload)
	aiGroup.POST("/upload/file", aiHandler.UploadFile)
	aiGroup.POST("/query", aiHandler.Query)
	aiGroup.GET("/filepath/:id", aiHandler.FilePath)
	aiGroup.GET("/sources", aiHandler.ListSources)
	aiGroup.DELETE("/sources/:id", aiHandler.DeleteSource)
	aiGroup.POST("/chat", aiHandler.Chat)
	aiGroup.POST("/chat/stream", aiHandler.ChatStream)

	return router
}
