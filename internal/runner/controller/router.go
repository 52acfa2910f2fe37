package controller

import (
	commonmw "coderun/internal/common/http/middleware"
	"coderun/internal/common/ratelimit"
	"coderun/internal/runner/service"
	"coderun/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds optional edge policies. The zero value disables them.
type RouterConfig struct {
	CORS        commonmw.CORSConfig
	Limiter     *ratelimit.Limiter
	SubmitLimit commonmw.RateLimitPolicy
}

// NewRouter builds the api routes.
func NewRouter(taskService *service.TaskService, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.AccessLogMiddleware("/healthz", "/metrics"))
	router.Use(commonmw.CORSMiddleware(cfg.CORS))

	tasks := NewTaskController(taskService)
	submitLimit := commonmw.RateLimitMiddleware(cfg.Limiter, "submit", cfg.SubmitLimit)
	api := router.Group("/api/v1")
	api.POST("/tasks", submitLimit, tasks.Create)
	api.GET("/tasks/:id", tasks.Get)
	api.GET("/tasks/:id/watch", tasks.Watch)
	api.GET("/languages", tasks.Languages)

	router.POST("/execute", submitLimit, tasks.Execute)
	router.GET("/result/:id", tasks.Result)

	router.GET("/healthz", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "Route not found")
	})
	return router
}
