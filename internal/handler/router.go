package handler

import (
	"tutorledger/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg)

	api := r.Group("/api/v1")
	api.Use(RateLimitMiddleware(rdb, cfg.Business.RateLimitPerMinute))
	{
		wallet := api.Group("/wallet")
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/audit", h.AuditBalance)
		}

		credits := api.Group("/credits")
		{
			credits.POST("/spend", h.SpendCredits)
			credits.POST("/add", h.AddCredits)
			credits.GET("/history", h.GetHistory)
		}

		refund := api.Group("/refund")
		{
			refund.POST("/execute", h.RefundBooking)
		}

		invoice := api.Group("/invoice")
		{
			invoice.POST("/issue", h.IssueInvoice)
			invoice.POST("/next", h.NextInvoiceNumber)
		}

		outbox := api.Group("/outbox")
		{
			outbox.POST("/requeue", h.RequeueOutbox)
		}

		webhooks := api.Group("/webhooks")
		{
			webhooks.POST("/payment", h.HandlePaymentWebhook)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
