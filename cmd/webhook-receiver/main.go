package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/handler"
	"github.com/noah-isme/student-tracker-sync/internal/middleware"
	"github.com/noah-isme/student-tracker-sync/internal/repository"
	"github.com/noah-isme/student-tracker-sync/internal/service"
	"github.com/noah-isme/student-tracker-sync/internal/webhook"
	"github.com/noah-isme/student-tracker-sync/pkg/config"
	"github.com/noah-isme/student-tracker-sync/pkg/database"
	"github.com/noah-isme/student-tracker-sync/pkg/jobs"
	"github.com/noah-isme/student-tracker-sync/pkg/logger"
	reqidmiddleware "github.com/noah-isme/student-tracker-sync/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Webhook.Secret == "" {
		logr.Fatal("WEBHOOK_SECRET is required")
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		logr.Fatal("failed to open database", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	gw := database.NewGateway(db,
		database.WithLogger(logr),
		database.WithObserver(metrics),
		database.WithReconnector(func(context.Context) (*sqlx.DB, error) {
			return database.Open(cfg.Database)
		}),
	)
	defer gw.Close() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics))

	handler.NewHealthHandler(metrics, gw).Register(r)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := webhook.NewAsyncQueue(repository.NewPendingRepository(gw), jobs.QueueConfig{
		Workers:    2,
		BufferSize: 256,
		MaxRetries: 5,
		Logger:     logr.Named("queue"),
	})
	queue.Start(context.Background())
	defer queue.Stop()

	hooks := r.Group("/", middleware.GitHubSignature(cfg.Webhook.Secret))
	webhook.NewHandler(queue, validator.New(), logr.Named("webhook")).Register(hooks)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Webhook.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("webhook receiver starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("shutdown", zap.Error(err))
	}
}
