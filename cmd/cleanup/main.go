// Command cleanup deletes sessions that expired longer ago than the
// configured retention. It is intended to run from an external scheduler
// (cron, Kubernetes CronJob); the API itself never runs background loops.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/communityos/auth-service/internal/infra/config"
	"github.com/communityos/auth-service/internal/infra/database"
	kafkainfra "github.com/communityos/auth-service/internal/infra/kafka"
	"github.com/communityos/auth-service/internal/infra/logger"
	postgresrepo "github.com/communityos/auth-service/internal/repository/postgres"
	"github.com/communityos/auth-service/internal/usecase"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zapLog, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() {
		_ = zapLog.Sync()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctx, timeout := context.WithTimeout(ctx, 5*time.Minute)
	defer timeout()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, zapLog)
	if err != nil {
		zapLog.Fatal("failed to init postgres", zap.Error(err))
	}
	defer pool.Close()

	repos := postgresrepo.NewRepositories(pool)
	sessions := usecase.NewSessionService(cfg, repos.Sessions, kafkainfra.NewStubPublisher(zapLog), zapLog)

	deleted, err := sessions.CleanupExpired(ctx)
	if err != nil {
		zapLog.Fatal("session cleanup failed", zap.Error(err))
	}

	zapLog.Info("session cleanup finished", zap.Int("deleted", deleted))
}
