package app

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/robotask-client/api/swagger"
	"github.com/noah-isme/robotask-client/internal/handler"
	"github.com/noah-isme/robotask-client/internal/middleware"
	"github.com/noah-isme/robotask-client/internal/models"
	"github.com/noah-isme/robotask-client/pkg/config"
	"github.com/noah-isme/robotask-client/pkg/logger"
	corsmiddleware "github.com/noah-isme/robotask-client/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/robotask-client/pkg/middleware/requestid"
)

// NewEngine builds the companion web server routes.
func NewEngine(a *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(a.Logger))
	r.Use(corsmiddleware.New(a.Config.Web.AllowedOrigins))
	r.Use(middleware.Metrics(a.Metrics))

	metricsHandler := handler.NewMetricsHandler(a.Metrics, a.checks)
	sessionHandler := handler.NewSessionHandler(a.Auth)
	viewHandler := handler.NewViewHandler(a.Router)
	taskHandler := handler.NewTaskHandler(a.Tasks)
	statsHandler := handler.NewStatisticsHandler(a.Stats, a.Exports)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/summary", metricsHandler.Summary)

	if a.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group("/api")
	api.GET("/session", sessionHandler.Current)
	api.POST("/session/login", sessionHandler.Login)
	api.POST("/session/logout", sessionHandler.Logout)
	api.POST("/register", sessionHandler.Register)
	api.GET("/view", viewHandler.Current)
	api.GET("/downloads/:token", statsHandler.Download)

	signedIn := api.Group("")
	signedIn.Use(middleware.RequireSession(a.Auth))
	signedIn.GET("/tasks", taskHandler.List)
	signedIn.POST("/tasks/refresh", taskHandler.Refresh)
	signedIn.POST("/tasks/:id/toggle", middleware.RequireRoles(models.RoleStudent), taskHandler.Toggle)

	admin := signedIn.Group("")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/tasks", taskHandler.Create)
	admin.GET("/tasks/:id", taskHandler.Detail)
	admin.GET("/statistics/overview", statsHandler.Overview)
	admin.GET("/statistics/tasks", statsHandler.PerTask)
	admin.GET("/statistics/students", statsHandler.PerStudent)
	admin.POST("/statistics/export", statsHandler.Export)

	return r
}
