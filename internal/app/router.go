package app

import (
	"exam_portal_backend/docs"
	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/middleware"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config, accounts middleware.AccountChecker) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要登录的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg, accounts))
	{
		a.registerStudentRoutes(authGroup, c)
	}

	// 3. 管理员相关接口
	a.registerAdminRoutes(router, c, cfg, accounts)
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}
}

func (a *App) registerStudentRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/profile", c.auth.Profile)
	rg.POST("/logout", c.auth.Logout)

	exams := rg.Group("/exams")
	{
		exams.GET("", c.exam.List)
		exams.GET("/:id", c.exam.Get)
		exams.GET("/:id/rankings", c.exam.Rankings)
		exams.POST("/:id/start", c.exam.Start)
	}

	attempts := rg.Group("/attempts")
	{
		attempts.GET("", c.attempt.History)
		attempts.GET("/live", c.attempt.Live)
		attempts.GET("/current", c.attempt.Current)
		attempts.DELETE("/current", c.attempt.End)
		attempts.GET("/current/backup", c.attempt.Backup)
		attempts.POST("/current/answers", c.attempt.Answer)
		attempts.POST("/current/visited", c.attempt.Visited)
		attempts.POST("/current/review", c.attempt.Review)
		attempts.POST("/current/submit", c.attempt.Submit)
		attempts.GET("/:id", c.attempt.Result)
	}
}

func (a *App) registerAdminRoutes(router *gin.Engine, c *controllers, cfg *config.Config, accounts middleware.AccountChecker) {
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg, accounts), middleware.RoleMiddleware(model.Admin))
	{
		admin.GET("/exams", c.adminExam.ListAll)
		admin.POST("/exams", c.adminExam.Create)
		admin.PUT("/exams/:id", c.adminExam.Update)
		admin.DELETE("/exams/:id", c.adminExam.Delete)
		admin.GET("/exams/:id/questions", c.adminExam.Questions)
		admin.POST("/exams/:id/questions", c.adminExam.AddQuestion)
		admin.POST("/exams/:id/complete", c.adminExam.Complete)
		admin.POST("/exams/:id/release", c.adminExam.Release)
		admin.GET("/exams/:id/live", c.adminExam.Live)

		admin.PUT("/questions/:questionId", c.adminExam.UpdateQuestion)
		admin.DELETE("/questions/:questionId", c.adminExam.DeleteQuestion)
	}
}
