package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grantrag/internal/bootstrap"
	"grantrag/internal/transport/http/handler"
	"grantrag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.MaxMultipartMemory = app.Config.DocStore.MaxUploadBytes
	router.Use(
		middleware.RequestID(),
		middleware.Logger(app.Logger.Named("http")),
		middleware.Recovery(app.Logger),
		middleware.CORS(app.Config.App.CORSOrigins),
	)

	healthHandler := handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, app.HealthChecks(), app.Index)
	uploadHandler := handler.NewUploadHandler(app.Uploads, app.Logger)
	queryHandler := handler.NewQueryHandler(app.Queries, app.Logger)
	documentHandler := handler.NewDocumentHandler(app.Uploads, app.Index, app.Logger)

	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	router.POST("/upload", uploadHandler.Upload)
	router.POST("/query", queryHandler.Query)
	router.GET("/documents", documentHandler.List)
	router.POST("/reindex", documentHandler.Reindex)

	return router
}
