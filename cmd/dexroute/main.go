package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/dexroute_unified/api"
	"github.com/Aidin1998/dexroute_unified/internal/adapters"
	"github.com/Aidin1998/dexroute_unified/internal/breaker"
	"github.com/Aidin1998/dexroute_unified/internal/cache"
	"github.com/Aidin1998/dexroute_unified/internal/config"
	"github.com/Aidin1998/dexroute_unified/internal/database"
	"github.com/Aidin1998/dexroute_unified/internal/events"
	"github.com/Aidin1998/dexroute_unified/internal/router"
	"github.com/Aidin1998/dexroute_unified/internal/swap"
	"github.com/Aidin1998/dexroute_unified/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Durable store
	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	store := swap.NewStore(db, zapLogger)
	if err := store.AutoMigrate(); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Cache backend: redis when configured, in-process otherwise
	var kv cache.Cache
	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		kv = cache.NewRedisCache(client)
		zapLogger.Info("Using redis cache", zap.String("address", cfg.Redis.Address))
	} else {
		mem := cache.NewMemoryCache()
		defer mem.Close()
		kv = mem
		zapLogger.Info("Using in-process cache")
	}

	coalescer := cache.NewCoalescer(kv, zapLogger)
	defer coalescer.Close()

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout,
		MonitoringWindow: cfg.CircuitBreaker.MonitoringWindow,
	}, zapLogger)

	// Upstream adapters
	var providers []adapters.Adapter
	if cfg.Adapters.Jupiter.Enabled {
		providers = append(providers, adapters.NewJupiterAdapter(cfg.Adapters.Jupiter.URL, cfg.Adapters.Jupiter.Timeout, zapLogger))
	}
	if cfg.Adapters.OKX.Enabled {
		signer := &adapters.Signer{
			APIKey:     cfg.Adapters.OKX.APIKey,
			SecretKey:  cfg.Adapters.OKX.SecretKey,
			Passphrase: cfg.Adapters.OKX.Passphrase,
		}
		providers = append(providers, adapters.NewOKXAdapter(cfg.Adapters.OKX.URL, cfg.Adapters.OKX.Timeout, signer, zapLogger))
	}
	if len(providers) == 0 {
		zapLogger.Fatal("No upstream adapters enabled")
	}

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.QuoteTopic, cfg.Kafka.SwapTopic, cfg.Kafka.WriteTimeout, zapLogger)
	defer publisher.Close()

	var enginePublisher router.EventPublisher
	var swapPublisher swap.EventPublisher
	if publisher != nil {
		enginePublisher = publisher
		swapPublisher = publisher
	}

	engine := router.NewEngine(providers, kv, coalescer, breakers, store, enginePublisher, cfg.Router, zapLogger)
	executor := swap.NewExecutor(store, providers, breakers, swapPublisher, cfg.Swap.TransactionExpiry, zapLogger)

	server := api.NewServer(zapLogger, engine, executor, store, cfg.Server.RateLimit)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zapLogger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
