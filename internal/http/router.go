package http

import (
	"time"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/http/handlers"
	"github.com/escrow-desk/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	dealHandler *handlers.DealHandler,
	botHandler *handlers.BotHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Bot connector surface. Lives on the internal network; commands are
	// already rate-limited per-chat by Telegram itself.
	app.Post("/internal/bot/update", botHandler.HandleUpdate)

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/telegram", authHandler.TelegramAuth)

	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Admin panel
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	admin := protected.Group("", middleware.AdminMiddleware(cfg))

	admin.Get("/deals", dealHandler.ListDeals)
	admin.Get("/deals/:id", dealHandler.GetDeal)
	admin.Get("/deals/:id/events", dealHandler.GetDealEvents)
	admin.Post("/deals/:id/confirm-received", dealHandler.ConfirmReceived)
	admin.Post("/deals/:id/release", dealHandler.Release)
	admin.Post("/deals/:id/refund", dealHandler.Refund)
	admin.Post("/deals/:id/cancel", dealHandler.Cancel)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
