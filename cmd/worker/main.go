package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/qcloud-nest/internal/audit"
	"github.com/birbparty/qcloud-nest/internal/cleanup"
	"github.com/birbparty/qcloud-nest/internal/clients"
	"github.com/birbparty/qcloud-nest/internal/queue"
	"github.com/birbparty/qcloud-nest/internal/storage"
	"github.com/birbparty/qcloud-nest/internal/telemetry"
	"github.com/birbparty/qcloud-nest/internal/worker"
)

const serviceName = "qcloud-nest-worker"

func main() {
	telemetryConfig := telemetry.NewConfigFromEnv().WithServiceName(serviceName)
	if err := telemetry.Init(telemetryConfig); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize telemetry")
	}
	log := telemetry.L()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize configurations
	workerConfig, err := worker.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load worker config")
	}

	queueConfig, err := queue.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load queue config")
	}
	workerConfig.MaxDeliver = queueConfig.ConsumerMaxDeliver

	clientsConfig, err := clients.NewConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Failed to load client config")
	}
	workerConfig.RetryPolicy = clientsConfig.RetryPolicy
	workerConfig.RetryLimits = clientsConfig.RetryLimits

	log.WithFields(logrus.Fields{
		"worker_id":   workerConfig.WorkerID,
		"worker_name": workerConfig.WorkerName,
		"concurrency": workerConfig.Concurrency,
	}).Info("Worker starting")

	// Load the service registry
	registry, err := storage.LoadRegistry(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to load service registry")
	}
	telemetry.UpdateRegistryServices(registry.Len())
	log.WithField("snapshot", registry.Snapshot()).Info("Loaded service registry")

	// Initialize NATS queue
	queueClient, err := queue.NewClient(queueConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to NATS")
	}
	defer queueClient.Close()
	log.WithField("url", queueConfig.URL).Info("Connected to NATS JetStream")

	// Audit log and its retention service (optional)
	var recorder audit.Recorder = audit.NopRecorder{}
	var retention *cleanup.Service
	if audit.Enabled() {
		auditConfig, err := audit.NewConfigFromEnv()
		if err != nil {
			log.WithError(err).Fatal("Failed to load audit config")
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
		recorder = store
		retention = cleanup.NewService(store, queueClient.Conn(), cleanup.LoadConfig())
		log.Info("Connected to PostgreSQL")
	} else {
		log.Warn("POSTGRES_HOST not set, audit log disabled")
	}

	pool := clients.NewPool(clients.NewFactory(clientsConfig, registry, telemetry.NewObserver(log), log))
	metrics := worker.NewMetrics()
	processor := worker.NewProcessor(workerConfig, pool, queueClient, recorder, metrics)

	// Start health check server
	healthApp := worker.NewHealthApp(serviceName, metrics, queueClient, queue.NewDLQHandler(queueClient))
	go func() {
		addr := fmt.Sprintf(":%d", workerConfig.HealthCheckPort)
		log.WithField("addr", addr).Info("Health check server listening")
		if err := healthApp.Listen(addr); err != nil {
			log.WithError(err).Error("Health server error")
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start processing in background
	processorDone := make(chan error, 1)
	go func() {
		processorDone <- processor.Start(ctx)
	}()

	if retention != nil {
		go retention.Start(ctx)
	}

	// Wait for shutdown signal or processor error
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutting down gracefully")
		cancel()

		select {
		case err := <-processorDone:
			if err != nil {
				log.WithError(err).Warn("Processor stopped with error")
			}
			log.Info("Worker shutdown complete")
		case <-time.After(workerConfig.HandleTimeout + 5*time.Second):
			log.Warn("Worker shutdown timeout")
		}

	case err := <-processorDone:
		if err != nil {
			log.WithError(err).Error("Processor error")
		}
	}

	_ = healthApp.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = telemetry.Shutdown(shutdownCtx)
}
