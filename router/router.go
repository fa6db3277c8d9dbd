package router

import (
	"log/slog"

	"penelope-batcher/config"
	"penelope-batcher/controllers"
	dbpkg "penelope-batcher/db"
	"penelope-batcher/middleware"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
)

// Initialize wires all routes and middlewares.
// Public: health and the Evolution webhook (rate limited per client IP).
// Protected: conversation inspection, behind the admin token when one is set.
func Initialize(r *gin.Engine, cfg config.Configuration, svc controllers.Batcher, database *gorm.DB, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(gin.Recovery())
	r.Use(Logger(logger.With("component", "http")))
	r.Use(dbpkg.SetDBtoContext(database))
	r.Use(controllers.SetServiceToContext(svc))

	r.GET("/health", controllers.Health)

	api := r.Group("/v1")

	if len(cfg.Webhook.AuthorizedNumbers) == 0 {
		logger.Warn("webhook authorized_numbers is empty; every private number will be answered")
	}

	limiter := middleware.NewRateLimiter(cfg.Webhook.RateLimitRPM, cfg.Webhook.RateLimitBurst)
	api.POST("/webhook/whatsapp", limiter.Middleware(), controllers.WhatsAppWebhook(controllers.WebhookSettings{
		AuthorizedNumbers: cfg.Webhook.AuthorizedNumbers,
		Secret:            cfg.Webhook.Secret,
		Logger:            logger.With("component", "webhook"),
	}))

	validated := api.Group("/conversations")
	validated.Use(Authorizer(cfg.AdminToken))
	validated.GET("/:key/mailbox", controllers.GetConversationMailbox)
	validated.GET("/:key/history", controllers.GetConversationHistory)

	logger.Info("routes initialized", "rate_limit_rpm", cfg.Webhook.RateLimitRPM, "admin_token", cfg.AdminToken != "")
}
