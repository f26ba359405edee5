package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/treasury-vault/backend/internal/config"
	"github.com/treasury-vault/backend/internal/http/handlers"
	"github.com/treasury-vault/backend/internal/middleware"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	vaultHandler *handlers.VaultHandler,
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

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/login", authHandler.Login)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Vault read surface (public)
	api.Get("/vaults", vaultHandler.ListVaults)
	api.Get("/vaults/:id", vaultHandler.GetVault)
	api.Get("/vaults/:id/ico", vaultHandler.GetICOStatus)
	api.Get("/vaults/:id/timer", vaultHandler.GetTimerStatus)

	// Administrative surface
	admin := api.Group("", middleware.AuthMiddleware(cfg, log), middleware.AdminMiddleware())

	admin.Post("/vaults", vaultHandler.CreateVault)
	admin.Delete("/vaults/:id", vaultHandler.DeleteVault)
	admin.Post("/vaults/:id/transition", vaultHandler.Transition)
	admin.Post("/vaults/:id/volume", vaultHandler.RecordVolume)
	admin.Post("/vaults/:id/winner/claim", vaultHandler.ClaimWinner)
	admin.Post("/vaults/:id/stage2/complete", vaultHandler.CompleteStage2)
	admin.Post("/vaults/:id/endgame/processed", vaultHandler.MarkEndgameProcessed)
	admin.Post("/vaults/:id/refund/processed", vaultHandler.MarkRefundProcessed)
	admin.Get("/vaults/:id/events", vaultHandler.GetEvents)

	admin.Get("/vaults/:id/whitelist", vaultHandler.ListWhitelist)
	admin.Post("/vaults/:id/whitelist", vaultHandler.AddWhitelistAddress)
	admin.Delete("/vaults/:id/whitelist/:address", vaultHandler.RemoveWhitelistAddress)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
