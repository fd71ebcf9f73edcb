package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

var (
	metricsOnce   sync.Once
	meterProvider *sdkmetric.MeterProvider

	// Cloud API metrics
	apiCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qcloud_api_calls_total",
		Help: "Total number of cloud API calls",
	}, []string{"service", "action", "status"})

	apiCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qcloud_api_call_duration_seconds",
		Help:    "Duration of cloud API calls in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"service", "action"})

	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qcloud_api_retries_total",
		Help: "Total number of retries of in-progress cloud tasks",
	}, []string{"service", "action"})

	registryServices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qcloud_registry_services",
		Help: "Number of services in the loaded endpoint snapshot",
	})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qcloud_cache_hits_total",
		Help: "Total number of response cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qcloud_cache_misses_total",
		Help: "Total number of response cache misses",
	})

	cacheOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qcloud_cache_operation_duration_seconds",
		Help:    "Duration of cache and audit operations in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	// Queue metrics
	messagesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_processed_total",
		Help: "Total number of messages processed",
	}, []string{"type", "status"})

	messageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "message_processing_duration_seconds",
		Help:    "Duration of message processing in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Current depth of the queue",
	}, []string{"queue"})

	dlqMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlq_messages_total",
		Help: "Total number of messages sent to DLQ",
	}, []string{"reason"})

	serviceUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "service_up",
		Help: "Whether the service is up (1) or down (0)",
	})
)

// InitMetrics wires the OTLP meter provider when enabled
func InitMetrics(cfg *Config) error {
	var err error
	metricsOnce.Do(func() {
		serviceUp.Set(1)
		if cfg.EnableMetrics {
			err = initOTELMetrics(cfg)
		}
	})
	return err
}

func initOTELMetrics(cfg *Config) error {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(time.Duration(cfg.MetricsInterval)*time.Second),
			),
		),
	)
	otel.SetMeterProvider(meterProvider)

	return nil
}

// CloseMetrics flushes and stops the OTLP meter provider
func CloseMetrics(ctx context.Context) error {
	if meterProvider == nil {
		return nil
	}
	return meterProvider.Shutdown(ctx)
}

// RecordAPICall records a finished cloud API call
func RecordAPICall(service, action, status string, duration time.Duration) {
	apiCallsTotal.WithLabelValues(service, action, status).Inc()
	apiCallDuration.WithLabelValues(service, action).Observe(duration.Seconds())
}

// RecordAPIRetry records a retry of an in-progress task
func RecordAPIRetry(service, action string) {
	apiRetriesTotal.WithLabelValues(service, action).Inc()
}

// UpdateRegistryServices updates the registry size gauge
func UpdateRegistryServices(count int) {
	registryServices.Set(float64(count))
}

// RecordCacheHit records a cache hit
func RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordCacheOperation records a cache operation duration
func RecordCacheOperation(operation string, status string, duration time.Duration) {
	cacheOperationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMessageProcessed records a processed message
func RecordMessageProcessed(msgType, status string, duration time.Duration) {
	messagesProcessedTotal.WithLabelValues(msgType, status).Inc()
	messageProcessingDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordDLQMessage records a message sent to DLQ
func RecordDLQMessage(reason string) {
	dlqMessagesTotal.WithLabelValues(reason).Inc()
}

// UpdateQueueDepth updates the queue depth metric
func UpdateQueueDepth(queue string, depth int) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}
