package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/tasklog/internal/config"
	"github.com/tasklog/internal/db"
	"github.com/tasklog/internal/handler"
)

// Setup 配置 Gin 引擎和路由
func Setup(cfg config.AppConfig) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	r.Use(sessions.Sessions("tasklog_session", store))

	api := handler.NewAPI(db.DB)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	r.POST("/login", handler.Login)
	r.POST("/logout", handler.Logout)

	// 任务与模板接口，UI 层唯一入口
	authed := r.Group("/api")
	authed.Use(handler.AuthRequired())
	{
		authed.GET("/tasks", api.ListTasks)
		authed.POST("/tasks", api.CreateTask)
		authed.GET("/tasks/:id", api.GetTask)
		authed.POST("/tasks/:id/complete", api.CompleteTask)
		authed.DELETE("/tasks/:id", api.DeleteTask)
		authed.PATCH("/tasks/:id", api.ReassignTask)
		authed.POST("/tasks/:id/push-forward", api.PushTaskForward)

		authed.GET("/templates", api.ListTemplates)
		authed.GET("/templates/:id", api.GetTemplate)
		authed.GET("/templates/:id/instances", api.ListTemplateInstances)

		authed.GET("/export", api.ExportBackup)
	}

	return r
}
