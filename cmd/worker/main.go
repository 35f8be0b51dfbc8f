// Package main runs the background worker: notification fan-out from the job
// queue and periodic rotation queue reconciliation.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caredesk/backend/config"
	"github.com/caredesk/backend/internal/auth"
	"github.com/caredesk/backend/internal/dispatch"
	"github.com/caredesk/backend/internal/notifications"
	"github.com/caredesk/backend/internal/organizations"
	"github.com/caredesk/backend/internal/realtime"
	"github.com/caredesk/backend/internal/worker"
	"github.com/caredesk/backend/pkg/database"
	"github.com/caredesk/backend/pkg/queue"
	"github.com/caredesk/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	notifRepo := notifications.NewRepository(pool)
	orgRepo := organizations.NewRepository(pool)
	authRepo := auth.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	publisher := realtime.NewRedisPubSub(rdb.Client, logger)
	processor := worker.NewNotificationProcessor(notifRepo, orgRepo, authRepo, jobQueue, publisher, logger)

	rotation := dispatch.NewRedisRotationQueue(rdb.Client, logger)
	reconciler := worker.NewRotationReconciler(orgRepo, rotation,
		time.Duration(cfg.Worker.ReconcileIntervalSec)*time.Second, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	go reconciler.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
