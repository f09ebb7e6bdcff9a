package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/internal/bridge"
	"github.com/ClareAI/astra-call-orchestrator/internal/channel"
	"github.com/ClareAI/astra-call-orchestrator/internal/channel/whatsapp"
	"github.com/ClareAI/astra-call-orchestrator/internal/config"
	"github.com/ClareAI/astra-call-orchestrator/internal/domain"
	"github.com/ClareAI/astra-call-orchestrator/internal/registry"
	"github.com/ClareAI/astra-call-orchestrator/internal/repository"
	"github.com/ClareAI/astra-call-orchestrator/internal/runner"
	"github.com/ClareAI/astra-call-orchestrator/internal/session"
	"github.com/ClareAI/astra-call-orchestrator/internal/tenant"
	"github.com/ClareAI/astra-call-orchestrator/internal/webhook"
	"github.com/ClareAI/astra-call-orchestrator/pkg/logger"
	"github.com/ClareAI/astra-call-orchestrator/pkg/pubsub"
	"github.com/ClareAI/astra-call-orchestrator/pkg/redis"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		// Not having a .env file is normal in deployed environments.
		fmt.Println("No .env file loaded, using environment variables")
	}

	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Load()

	db, err := repository.NewDatabaseConnection(repository.LoadDatabaseConfigFromEnv())
	if err != nil {
		logger.Base().Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := repository.AutoMigrate(db); err != nil {
		logger.Base().Fatal("Failed to run database migrations", zap.Error(err))
	}
	repos := repository.NewRepositoryManager(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis presence is optional; without it this pod cannot participate
	// in cross-pod cleanup but still serves calls.
	var sessionMgr *session.Manager
	var presence runner.Presence
	if host := os.Getenv("REDIS_HOST"); host != "" {
		redisSvc, err := redis.NewRedisService(&redis.RedisConfig{
			Host:     host,
			Port:     envOrDefault("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		})
		if err != nil {
			logger.Base().Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisSvc.Close()
		sessionMgr = session.NewManager(redisSvc, cfg.InstanceID)
		presence = sessionMgr
	} else {
		logger.Base().Warn("REDIS_HOST not set, cross-pod session presence disabled")
	}

	// Usage publishing is optional as well.
	var usage runner.UsagePublisher
	if projectID := os.Getenv("PUBSUB_PROJECT_ID"); projectID != "" {
		pubsubSvc, err := pubsub.NewPubSubService(ctx, &pubsub.PubSubConfig{
			ProjectID: projectID,
			TopicName: envOrDefault("PUBSUB_TOPIC", "call-usage-events"),
			PubID:     cfg.InstanceID,
		})
		if err != nil {
			logger.Base().Fatal("Failed to initialize Pub/Sub", zap.Error(err))
		}
		defer pubsubSvc.Close()
		usage = pubsubSvc
	} else {
		logger.Base().Warn("PUBSUB_PROJECT_ID not set, usage publishing disabled")
	}

	reg := registry.New()
	callRunner := runner.New(reg, repos.CallRecords, presence, usage, runner.Config{
		StartTimeout:      cfg.StartTimeout,
		InactivityTimeout: cfg.InactivityTimeout,
		SweepInterval:     cfg.SweepInterval,
	})
	callRunner.StartSweeper(ctx)

	bridgeFactory := bridge.NewFactory(cfg)

	var handlerFactory channel.HandlerFactory
	var controlPlane channel.ControlPlane
	switch cfg.Channel {
	case domain.ChannelTypeWhatsApp:
		client := whatsapp.NewClient(cfg.WhatsAppGraphBaseURL)
		handlerFactory = whatsapp.NewFactory(client, bridgeFactory, cfg.STUNServers)
		controlPlane = client
	default:
		logger.Base().Fatal("Unsupported call channel", zap.String("channel", string(cfg.Channel)))
	}

	resolver := tenant.NewResolver(repos.Integrations, repos.Chatbots, cfg.Channel)

	webhookHandler := webhook.NewHandler(webhook.Options{
		WebhookSecret:       cfg.WhatsAppWebhookSecret,
		VerifyToken:         cfg.WhatsAppVerifyToken,
		RoutingJWTSecret:    cfg.RoutingJWTSecret,
		FallbackAccessToken: cfg.FallbackAccessToken,
		FallbackAppSecret:   cfg.FallbackAppSecret,
		DedupeWindow:        cfg.DedupeWindow,
		RateLimitPerSecond:  cfg.RateLimitPerSecond,
		RateLimitBurst:      cfg.RateLimitBurst,
	}, resolver, callRunner, reg, handlerFactory, controlPlane, sessionMgr)

	// A terminate landing on another pod broadcasts a cleanup request;
	// the owning pod tears the call down here.
	if sessionMgr != nil {
		err := sessionMgr.SubscribeToCleanup(ctx, func(providerCallID, reason string) {
			callRunner.EndCallByProviderID(context.Background(), providerCallID, domain.TerminationReason(reason))
		})
		if err != nil {
			logger.Base().Warn("Failed to subscribe to cleanup channel", zap.Error(err))
		}
	}

	router := mux.NewRouter()
	webhookHandler.SetupRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Base().Info("Starting call orchestrator",
			zap.String("addr", server.Addr),
			zap.String("channel", string(cfg.Channel)),
			zap.String("instance_id", cfg.InstanceID))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Base().Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Base().Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	callRunner.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Base().Error("HTTP server shutdown error", zap.Error(err))
	}
	logger.Base().Info("Shutdown complete")
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
