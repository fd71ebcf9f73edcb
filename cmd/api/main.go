package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/qcloud-nest/internal/api"
	"github.com/birbparty/qcloud-nest/internal/audit"
	"github.com/birbparty/qcloud-nest/internal/cache"
	"github.com/birbparty/qcloud-nest/internal/clients"
	"github.com/birbparty/qcloud-nest/internal/queue"
	"github.com/birbparty/qcloud-nest/internal/storage"
	"github.com/birbparty/qcloud-nest/internal/telemetry"
)

func main() {
	telemetryConfig := telemetry.NewConfigFromEnv().WithServiceName(api.ServiceName)
	if err := telemetry.Init(telemetryConfig); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize telemetry")
	}
	log := telemetry.L()

	// Load API configuration
	cfg, err := api.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	ctx := context.Background()

	// Load the service registry
	registry, err := storage.LoadRegistry(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to load service registry")
	}
	telemetry.UpdateRegistryServices(registry.Len())
	log.WithFields(logrus.Fields{
		"snapshot": registry.Snapshot(),
		"services": registry.Len(),
	}).Info("Loaded service registry")

	clientsConfig, err := clients.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load client configuration")
	}
	pool := clients.NewPool(clients.NewFactory(clientsConfig, registry, telemetry.NewObserver(log), log))

	deps := api.Deps{
		Registry:      registry,
		Pool:          pool,
		RetryPolicy:   &clientsConfig.RetryPolicy,
		RetryLimits:   &clientsConfig.RetryLimits,
		DefaultRegion: cfg.DefaultRegion,
		Checks:        map[string]api.HealthCheck{},
	}

	// Response cache (optional)
	if cache.Enabled() {
		cacheConfig, err := cache.NewConfigFromEnv()
		if err != nil {
			log.WithError(err).Fatal("Failed to load cache configuration")
		}
		redisCache, err := cache.NewRedisCache(cacheConfig)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisCache.Close()

		deps.Cache = cache.NewResponseCache(redisCache, cacheConfig.DefaultTTL, log)
		deps.Checks["redis"] = redisCache.Ping
		log.WithField("addr", cacheConfig.Address()).Info("Connected to Redis")
	}

	// Audit log (optional)
	var auditWriter *api.AsyncWriter
	if audit.Enabled() {
		auditConfig, err := audit.NewConfigFromEnv()
		if err != nil {
			log.WithError(err).Fatal("Failed to load audit configuration")
		}
		db, err := audit.NewDB(ctx, auditConfig)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to PostgreSQL")
		}
		defer db.Close()

		store := audit.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			log.WithError(err).Fatal("Failed to prepare audit schema")
		}

		auditWriter = api.NewAsyncWriter(store, cfg.AuditQueueSize, cfg.AuditWorkers)
		api.InitializeAuditMetrics(cfg.AuditQueueSize)
		deps.Recorder = auditWriter
		deps.AuditReader = store
		deps.Checks["postgres"] = db.Health
		log.Info("Connected to PostgreSQL")
	}

	// Async actions (optional)
	if os.Getenv("NATS_URL") != "" {
		queueConfig, err := queue.NewConfigFromEnv()
		if err != nil {
			log.WithError(err).Fatal("Failed to load queue configuration")
		}
		queueClient, err := queue.NewClient(queueConfig)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to NATS")
		}
		defer queueClient.Close()

		deps.Queue = queueClient
		deps.Checks["nats"] = func(context.Context) error { return queueClient.Health() }
		log.WithField("url", queueConfig.URL).Info("Connected to NATS JetStream")
	}

	app := api.NewApp(api.NewHandler(deps), cfg)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan

		log.WithField("signal", sig.String()).Info("Shutting down gracefully")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.WithError(err).Warn("Server forced to shutdown")
		}
	}()

	log.WithField("addr", cfg.Address()).Info("API listening")
	if err := app.Listen(cfg.Address()); err != nil {
		log.WithError(err).Error("Server stopped")
	}

	// Flush queued audit records after the last request
	if auditWriter != nil {
		auditWriter.Shutdown()
	}

	telemetryCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = telemetry.Shutdown(telemetryCtx)
}
