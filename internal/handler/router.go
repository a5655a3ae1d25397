package handler

import (
	"walletsvc/internal/config"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 钱包相关
		wallet := api.Group("/wallet")
		{
			wallet.POST("", h.CreateWallet)
			wallet.GET("", h.GetWallet)
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/validate", h.ValidateBalance)
			wallet.GET("/transactions", h.ListTransactions)
			wallet.POST("/hold", h.Hold)
			wallet.POST("/hold/release", h.ReleaseHold)
			wallet.POST("/charge", h.Charge)
			wallet.POST("/refund", h.Refund)
			wallet.POST("/topup", h.TopUp)
			wallet.POST("/adjustment", h.Adjustment)
			wallet.POST("/token/deduct", h.DeductTokens)
		}

		// 积分套餐
		packages := api.Group("/packages")
		{
			packages.GET("", h.ListPackages)
			packages.GET("/:id", h.GetPackage)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
