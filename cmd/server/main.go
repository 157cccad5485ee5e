package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carpihogar-assistant/config"
	"carpihogar-assistant/internal/api"
	"carpihogar-assistant/internal/broker"
	"carpihogar-assistant/internal/eventbus"
	"carpihogar-assistant/internal/messaging"
	"carpihogar-assistant/internal/redisclient"
	"carpihogar-assistant/internal/service"
	"carpihogar-assistant/internal/store"
	"carpihogar-assistant/internal/util"
	"carpihogar-assistant/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting Carpihogar purchase assistant")

	shutdownTracer, err := util.InitTracer(cfg.Observ.JaegerEndpoint, cfg.Observ.SampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if cfg.Database.RunMigrations {
		if err := db.RunMigrations(); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	var provider messaging.Provider = messaging.NewLogProvider()
	if cfg.WhatsApp.Enabled {
		cloud := messaging.NewCloudAPIProvider(cfg.WhatsApp.APIBaseURL, cfg.WhatsApp.PhoneNumberID,
			cfg.WhatsApp.AccessToken, cfg.WhatsApp.Timeout)
		provider = messaging.NewBreakerProvider(cloud, 5, 30*time.Second)
	} else {
		logger.Warn("WhatsApp delivery disabled, messages are only logged")
	}
	dispatcher := messaging.NewDispatcher(provider)

	bus := eventbus.NewInMemoryBus(30 * time.Second)

	orderService := service.NewOrderService(db, db, bus)
	tokenService := service.NewTokenService(db, db, db, orderService, dispatcher, redisClient,
		cfg.Business.MaxTokenAttempts, cfg.Business.TokenTTL)
	flowController := service.NewFlowController(redisClient, db, db, db, tokenService)
	webhookService := service.NewWebhookService(db, orderService, tokenService, dispatcher, redisClient,
		cfg.Business.AllowPhraseConfirmation)
	router := service.NewCarrierRouter(cfg.Business.LocalDeliveryCities, cfg.Business.MRWCities)
	shipmentService := service.NewShipmentService(db, router, bus)
	paymentService := service.NewPaymentService(orderService, db)

	shipmentService.Register(bus)
	service.NewNotifier(db, db, dispatcher).Register(bus)
	service.RegisterCartCleanup(bus, redisClient)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var paymentWorker *worker.PaymentWorker
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		broker.NewEventMirror(producer).Register(bus)

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments, cfg.Kafka.ConsumerGroup)
		paymentWorker = worker.NewPaymentWorker(consumer, paymentService)
		go func() {
			if err := paymentWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Payment worker error", zap.Error(err))
			}
		}()
		logger.Info("Kafka enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("events_topic", cfg.Kafka.TopicEvents))
	}

	sweeper := worker.NewRetentionSweeper(db, redisClient, cfg.Business.RetentionDays,
		cfg.Business.SweepInterval, cfg.Business.SweepBatchSize)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Retention sweeper error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	handler := api.NewHandler(flowController, webhookService, shipmentService, paymentService,
		map[string]api.Pinger{"postgres": db, "redis": redisClient},
		api.Options{
			CookieSecure:       cfg.Server.CookieSecure,
			JWTSecret:          cfg.Auth.JWTSecret,
			WebhookAPIKey:      cfg.Auth.WebhookAPIKey,
			WebhookVerifyToken: cfg.WhatsApp.VerifyToken,
			WebhookAppSecret:   cfg.WhatsApp.AppSecret,
		})
	handler.SetupRoutes(engine)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if paymentWorker != nil {
		if err := paymentWorker.Stop(); err != nil {
			logger.Warn("Error stopping payment worker", zap.Error(err))
		}
	}

	// in-flight handlers may still publish to Kafka or send WhatsApp messages
	if err := bus.Close(shutdownCtx); err != nil {
		logger.Warn("Event handlers did not finish", zap.Error(err))
	}

	logger.Info("Server exited")
}
