package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/treasury-vault/backend/internal/config"
	"github.com/treasury-vault/backend/internal/db"
	"github.com/treasury-vault/backend/internal/events"
	"github.com/treasury-vault/backend/internal/feed"
	"github.com/treasury-vault/backend/internal/lifecycle"
	"github.com/treasury-vault/backend/internal/repositories"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	vaultRepo := repositories.NewVaultRepo(pool)
	whitelistRepo := repositories.NewWhitelistRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Lifecycle engine
	engine := lifecycle.New(vaultRepo, whitelistRepo, auditRepo, publisher, cfg, lifecycle.SystemClock(), log)

	// Purchase feed
	deduper := feed.NewRedisDeduper(rdb, log)
	consumer := feed.NewConsumer(subscriber, engine, deduper, log)
	if err := consumer.Start(ctx); err != nil {
		log.Fatal("failed to start purchase feed consumer", zap.Error(err))
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down engine")
		cancel()
	}()

	engine.Run(ctx)
}
