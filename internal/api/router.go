package api

import (
	"net/http"
	"strings"
	"time"

	"promoshot/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter 注册所有路由
func NewRouter(h *HTTPHandler) *gin.Engine {
	r := gin.New()

	r.Use(LoggingMiddleware())
	r.Use(CORSMiddleware())
	r.Use(gin.Recovery())

	r.GET("/health", h.Health)

	apiGroup := r.Group("/api")

	authGroup := apiGroup.Group("/auth")
	authGroup.GET("/status", h.AuthStatus)
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)
	authGroup.GET("/me", h.AuthMiddleware(), h.Me)
	authGroup.PATCH("/me", h.AuthMiddleware(), h.UpdateProfile)

	// 执行器回调使用共享密钥鉴权
	apiGroup.POST("/webhooks/executor", h.ExecutorWebhook)

	protected := apiGroup.Group("")
	protected.Use(h.AuthMiddleware())
	protected.GET("/credits", h.GetCredits)
	protected.GET("/events", h.StreamEvents)

	protected.POST("/uploads", h.UploadProductImage)
	protected.DELETE("/uploads", h.DeleteUpload)

	generations := protected.Group("/generations")
	generations.GET("", h.ListGenerations)
	generations.POST("", h.CreateGeneration)
	generations.GET("/:id", h.GetGeneration)
	generations.DELETE("/:id", h.DeleteGeneration)
	generations.GET("/:id/logs", h.ListGenerationLogs)
	generations.GET("/:id/state", h.GetGenerationState)
	generations.POST("/:id/retry", h.RetryGeneration)

	protected.GET("/stats", h.GetGenerationStats)

	products := protected.Group("/products")
	products.GET("", h.ListProducts)
	products.POST("", h.CreateProduct)
	products.GET("/:id", h.GetProduct)
	products.PATCH("/:id", h.UpdateProduct)
	products.DELETE("/:id", h.DeleteProduct)

	prompts := protected.Group("/prompt-templates")
	prompts.GET("", h.ListPromptTemplates)
	prompts.POST("/:id/preview", h.PreviewPromptTemplate)
	prompts.POST("", h.RequireAdmin(), h.CreatePromptTemplate)
	prompts.PATCH("/:id", h.RequireAdmin(), h.UpdatePromptTemplate)
	prompts.DELETE("/:id", h.RequireAdmin(), h.DeletePromptTemplate)

	protected.GET("/workflows", h.GetWorkflowConfiguration)
	protected.PUT("/workflows", h.PutWorkflowConfiguration)

	templateAdmin := protected.Group("/workflow-templates")
	templateAdmin.Use(h.RequireAdmin())
	templateAdmin.GET("", h.ListWorkflowTemplates)
	templateAdmin.POST("", h.CreateWorkflowTemplate)
	templateAdmin.PATCH("/:id", h.UpdateWorkflowTemplate)
	templateAdmin.DELETE("/:id", h.DeleteWorkflowTemplate)

	userAdmin := protected.Group("/users")
	userAdmin.Use(h.RequireAdmin())
	userAdmin.GET("", h.ListUsers)
	userAdmin.POST("", h.CreateUser)
	userAdmin.PATCH("/:id", h.UpdateUser)
	userAdmin.DELETE("/:id", h.DeleteUser)

	if localProvider, ok := h.storage.(storage.LocalBaseDirProvider); ok {
		publicPrefix := h.storagePublicBase
		if !strings.HasPrefix(publicPrefix, "http://") && !strings.HasPrefix(publicPrefix, "https://") {
			r.Static(publicPrefix, localProvider.LocalBaseDir())
		}
	}

	return r
}

// Health 返回服务与执行器配置状态，执行器未配置不影响健康检查
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"executor": h.cfg.ExecutorStatus(),
		"tracked":  h.states.Len(),
	})
}

// CORSMiddleware CORS跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, "+WebhookSecretHeader)
		c.Header("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggingMiddleware 日志记录中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		logrus.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"duration":  duration.String(),
			"size":      c.Writer.Size(),
			"client_ip": c.ClientIP(),
		}).Info("http_request")
	}
}
