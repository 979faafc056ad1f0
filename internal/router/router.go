package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitstreak/internal/handler"
	"github.com/habitstreak/internal/logger"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(api.Logger()), api.LocaleMiddleware())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	apiGroup := r.Group("/api")
	{
		habits := apiGroup.Group("/habits")
		{
			habits.GET("", api.ListHabits)
			habits.POST("", api.CreateHabit)
			habits.GET("/:name", api.GetHabit)
			habits.DELETE("/:name", api.DeleteHabit)
			habits.POST("/:name/check-off", api.CheckOffHabit)
			habits.GET("/:name/longest-streak", api.GetHabitLongestStreak)
			habits.GET("/:name/misses", api.GetHabitMisses)
		}

		stats := apiGroup.Group("/stats")
		{
			stats.GET("/longest-streak", api.GetLongestStreak)
			stats.GET("/most-missed", api.GetMostMissed)
		}

		apiGroup.POST("/reconcile", api.TriggerReconcile)
	}

	return r
}

// requestLogger 记录每个请求的方法、路径、状态码与耗时
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}
