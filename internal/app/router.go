package app

import (
	"lingo_assess_backend/docs"
	"lingo_assess_backend/internal/config"
	"lingo_assess_backend/internal/middleware"
	"lingo_assess_backend/internal/model"
	"lingo_assess_backend/pkg/monitoring"
	"lingo_assess_backend/pkg/security"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// multipart 表单本身的开销
const uploadOverhead = 1 << 20

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.GET("/profile", c.auth.GetProfile)
		a.registerAssessmentRoutes(authGroup, c, cfg)
	}

	// 3. 督导评估
	a.registerSupervisorRoutes(router, c, cfg)
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}
}

func (a *App) registerAssessmentRoutes(rg *gin.RouterGroup, c *controllers, cfg *config.Config) {
	assessments := rg.Group("/assessments")
	{
		assessments.GET("/availability", c.assessment.Availability)
		assessments.GET("/history", c.assessment.History)
		assessments.GET("/statistics", c.assessment.Statistics)
		assessments.GET("/records/:id", c.assessment.GetRecord)
		assessments.POST("/media/upload", security.MaxBodySize(cfg.Assessment.MaxMediaSize()+uploadOverhead), c.media.Upload)
		assessments.POST("/:skill/submit", c.assessment.Submit)
	}
}

func (a *App) registerSupervisorRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	supervisor := router.Group("/api/supervisor")
	supervisor.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Supervisor))
	{
		supervisor.GET("/assessments/pending", c.supervisor.ListPending)
		supervisor.GET("/assessments/:id", c.supervisor.GetRecord)
		supervisor.POST("/assessments/:id/evaluate", c.supervisor.Evaluate)
	}
}
