package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/treasury-vault/backend/internal/config"
	"github.com/treasury-vault/backend/internal/db"
	"github.com/treasury-vault/backend/internal/events"
	apphttp "github.com/treasury-vault/backend/internal/http"
	"github.com/treasury-vault/backend/internal/http/handlers"
	"github.com/treasury-vault/backend/internal/lifecycle"
	"github.com/treasury-vault/backend/internal/repositories"
	"github.com/treasury-vault/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	vaultRepo := repositories.NewVaultRepo(pool)
	whitelistRepo := repositories.NewWhitelistRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Lifecycle engine: the API process uses it for manual transitions
	// only, the dedicated engine process runs the tick loop.
	engine := lifecycle.New(vaultRepo, whitelistRepo, auditRepo, publisher, cfg, lifecycle.SystemClock(), log)

	// Services
	vaultService := services.NewVaultService(vaultRepo, whitelistRepo, auditRepo, engine, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, log)
	vaultHandler := handlers.NewVaultHandler(vaultService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, vaultHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
