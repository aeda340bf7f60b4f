package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/realtime"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(util.TracingConfig{
		ServiceName:    "storefront",
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.MigrateOnStart {
		m, err := store.NewMigrator(db.GetDB().DB, logger)
		if err != nil {
			logger.Fatal("Failed to prepare migrations", zap.Error(err))
		}
		if err := m.Up(); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.StockCacheTTL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)

	inventory := service.NewInventory(redisClient, logger)
	coupons := service.NewCouponLedger(logger)
	engine := service.NewOrderEngine(service.EngineDeps{
		Store:     db,
		Inventory: inventory,
		Coupons:   coupons,
		Publisher: eventPublisher,
		Config:    cfg.Business,
		Logger:    logger,
	})
	orderService := service.NewOrderService(db, engine, redisClient)
	paymentService := service.NewPaymentService(db, engine)
	sagaOrchestrator := service.NewSagaOrchestrator(db, engine, paymentService)
	eventHandler := worker.NewSagaEventHandler(sagaOrchestrator)
	hub := realtime.NewHub()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	externalConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicExternal, cfg.Kafka.ConsumerGroup)
	externalWorker := worker.NewExternalEventWorker(externalConsumer, eventHandler)
	go func() {
		if err := externalWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("External event worker stopped", zap.Error(err))
		}
	}()

	realtimeConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.RealtimeGroup)
	realtimeWorker := worker.NewRealtimeWorker(realtimeConsumer, hub)
	go func() {
		if err := realtimeWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Realtime worker stopped", zap.Error(err))
		}
	}()

	sweeper := worker.NewExpirySweeper(orderService, cfg.Business.SweepInterval, cfg.Business.OrderTimeout)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Expiry sweeper stopped", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Orders:   orderService,
		Payments: paymentService,
		Catalog:  service.NewCatalogService(db, inventory, cfg.Business.LowStockListSize),
		Users:    service.NewUserService(db, coupons, time.Now),
		Reports:  service.NewReportService(db),
		Events:   eventHandler,
		Realtime: http.HandlerFunc(hub.ServeWS),
		Limiter:  redisClient,
		Checks: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	}, cfg.Auth, cfg.Business)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if cfg.Observ.PrometheusPort != "" && cfg.Observ.PrometheusPort != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: ":" + cfg.Observ.PrometheusPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	workerCancel()
	hub.Close()
	if err := externalWorker.Stop(); err != nil {
		logger.Warn("Failed to stop external event worker", zap.Error(err))
	}
	if err := realtimeWorker.Stop(); err != nil {
		logger.Warn("Failed to stop realtime worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
