// Package worker executes queued cloud API actions
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/birbparty/qcloud-nest/internal/audit"
	"github.com/birbparty/qcloud-nest/internal/clients"
	"github.com/birbparty/qcloud-nest/internal/queue"
	"github.com/birbparty/qcloud-nest/internal/telemetry"
	"github.com/birbparty/qcloud-nest/sdk"
)

// Outcome is what happened to one delivered message
type Outcome int

const (
	// OutcomeSucceeded means the action ran and its result was published
	OutcomeSucceeded Outcome = iota
	// OutcomeFailed means the action failed for good; a failed result was published
	OutcomeFailed
	// OutcomeRedelivered means the message was handed back to the stream
	OutcomeRedelivered
	// OutcomeDeadLettered means the message could not be processed at all
	OutcomeDeadLettered
)

// String returns the metric label of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeRedelivered:
		return "redelivered"
	case OutcomeDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// ResultPublisher stores action results. *queue.Client satisfies it.
type ResultPublisher interface {
	PublishResult(ctx context.Context, res *queue.ResultMessage) error
}

// DeadLetterer parks failed messages. *queue.DLQHandler satisfies it.
type DeadLetterer interface {
	SendToDLQ(ctx context.Context, msg *nats.Msg, err error) error
}

// Processor handles message processing for the worker
type Processor struct {
	config      *Config
	pool        *clients.Pool
	queueClient *queue.Client
	results     ResultPublisher
	dlq         DeadLetterer
	recorder    audit.Recorder
	metrics     *Metrics
	log         logrus.FieldLogger

	sem      chan struct{}
	inflight sync.WaitGroup
}

// NewProcessor creates a new message processor. recorder may be nil.
func NewProcessor(config *Config, pool *clients.Pool, queueClient *queue.Client, recorder audit.Recorder, metrics *Metrics) *Processor {
	p := newProcessor(config, pool, queueClient, queue.NewDLQHandler(queueClient), recorder, metrics)
	p.queueClient = queueClient
	return p
}

func newProcessor(config *Config, pool *clients.Pool, results ResultPublisher, dlq DeadLetterer, recorder audit.Recorder, metrics *Metrics) *Processor {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	concurrency := config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		config:   config,
		pool:     pool,
		results:  results,
		dlq:      dlq,
		recorder: recorder,
		metrics:  metrics,
		log:      telemetry.L().WithField("worker_id", config.WorkerID),
		sem:      make(chan struct{}, concurrency),
	}
}

// Start consumes action messages until ctx is done, then waits for the
// messages in flight
func (p *Processor) Start(ctx context.Context) error {
	p.log.WithField("concurrency", cap(p.sem)).Info("Worker starting message processing")

	queueConfig := p.queueClient.GetConfig()
	if _, err := p.queueClient.CreateConsumer(queueConfig.StreamName, queueConfig.ConsumerName); err != nil {
		p.metrics.SetHealthy(false)
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sub, err := p.queueClient.Subscribe(ctx, queueConfig.StreamName, queueConfig.ConsumerName, func(msg *nats.Msg) {
		p.dispatch(ctx, msg)
	})
	if err != nil {
		p.metrics.SetHealthy(false)
		return fmt.Errorf("failed to subscribe to actions: %w", err)
	}
	defer sub.Unsubscribe()

	metricsTicker := time.NewTicker(p.config.MetricsInterval)
	defer metricsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.shutdown()
		case <-metricsTicker.C:
			p.reportMetrics()
		}
	}
}

// dispatch blocks until a slot is free, then handles msg in the background
func (p *Processor) dispatch(ctx context.Context, msg *nats.Msg) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer func() { <-p.sem }()

		// Calls in flight outlive ctx; HandleTimeout bounds them
		handleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.HandleTimeout)
		defer cancel()
		p.handleMessage(handleCtx, msg)
	}()
}

// handleMessage processes msg and settles it with the stream
func (p *Processor) handleMessage(ctx context.Context, msg *nats.Msg) {
	var err error
	switch p.Process(ctx, msg) {
	case OutcomeRedelivered:
		err = msg.NakWithDelay(p.config.RedeliveryDelay)
	default:
		err = msg.Ack()
	}
	if err != nil {
		p.log.WithError(err).Warn("Failed to settle message")
	}
}

// Process runs the action carried by msg and reports what should happen to it.
// It publishes results and dead letters but never acks.
func (p *Processor) Process(ctx context.Context, msg *nats.Msg) Outcome {
	start := time.Now()
	ctx = queue.MessageContext(ctx, msg)
	ctx, span := telemetry.StartSpan(ctx, "qcloud.worker.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination", msg.Subject),
			attribute.String("messaging.operation", "process"),
		),
	)
	defer span.End()

	outcome, err := p.process(ctx, msg)

	errorType := ""
	if err != nil {
		errorType = sdk.TypeOf(err).String()
		if errors.Is(err, queue.ErrInvalidMessage) {
			errorType = "invalid_message"
		}
		telemetry.RecordError(ctx, err)
		telemetry.SetErrorStatus(ctx, err.Error())
	} else {
		telemetry.SetOKStatus(ctx)
	}
	span.SetAttributes(attribute.String("qcloud.outcome", outcome.String()))

	duration := time.Since(start)
	p.metrics.RecordOutcome(outcome, errorType, duration)
	telemetry.RecordMessageProcessed("action", outcome.String(), duration)
	return outcome
}

func (p *Processor) process(ctx context.Context, msg *nats.Msg) (Outcome, error) {
	action, err := queue.UnmarshalActionMessage(msg.Data)
	if err == nil {
		err = action.Validate()
	}
	if err == nil {
		err = action.CheckRetryLimits(p.config.RetryPolicy, p.config.RetryLimits)
	}
	if err != nil {
		p.log.WithError(err).Warn("Dropping invalid action message")
		return p.deadLetter(ctx, msg, err), err
	}

	log := p.log.WithFields(logrus.Fields{
		"message_id": action.ID,
		"service":    action.Service,
		"action":     action.Action,
		"region":     action.Region,
	})

	client, err := p.pool.Get(action.Service, action.Version, action.Region)
	if err != nil {
		log.WithError(err).Warn("Cannot build client for action")
		p.publishResult(ctx, action, nil, nil, err, 0)
		return p.deadLetter(ctx, msg, err), err
	}

	start := time.Now()
	var resp *sdk.Response
	if action.Retry {
		resp, err = client.CallWithRetryPolicy(ctx, action.RetryPolicy(p.config.RetryPolicy), action.Action, action.Params, action.Headers)
	} else {
		resp, err = client.Call(ctx, action.Action, action.Params, action.Headers)
	}
	duration := time.Since(start)

	if err != nil && queue.IsRetryable(err) && !deliveriesExhausted(msg, p.config.MaxDeliver) {
		log.WithError(err).Info("Action failed locally, requesting redelivery")
		return OutcomeRedelivered, err
	}

	rec := audit.NewCallRecord(client, action.Action, audit.SourceWorker, resp, err, duration)
	if recErr := p.recorder.Record(ctx, rec); recErr != nil {
		log.WithError(recErr).Warn("Failed to record audit entry")
	}

	p.publishResult(ctx, action, client, resp, err, duration)

	if err != nil {
		log.WithError(err).Warn("Action failed")
		return p.deadLetter(ctx, msg, err), err
	}

	log.WithField("request_id", resp.RequestID).Info("Action succeeded")
	return OutcomeSucceeded, nil
}

func (p *Processor) publishResult(ctx context.Context, action *queue.ActionMessage, client clients.Caller, resp *sdk.Response, callErr error, duration time.Duration) {
	res := &queue.ResultMessage{
		ID:          action.ID,
		Service:     action.Service,
		Version:     action.Version,
		Region:      action.Region,
		Action:      action.Action,
		Status:      queue.StatusSucceeded,
		Attempts:    1,
		DurationMS:  duration.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
	if client != nil {
		res.Version = client.Version()
	}
	if resp != nil {
		res.RequestID = resp.RequestID
		res.Response = resp.Body
	}
	if callErr != nil {
		res.Status = queue.StatusFailed
		res.Error = queue.NewResultError(callErr)
		res.RequestID = res.Error.RequestID
		var sdkErr *sdk.Error
		if errors.As(callErr, &sdkErr) && sdkErr.Attempts > 0 {
			res.Attempts = sdkErr.Attempts
		}
	}

	if err := p.results.PublishResult(ctx, res); err != nil {
		p.log.WithError(err).WithField("message_id", action.ID).Error("Failed to publish result")
	}
}

// deadLetter parks msg on the DLQ. The message is acked either way.
func (p *Processor) deadLetter(ctx context.Context, msg *nats.Msg, cause error) Outcome {
	if err := p.dlq.SendToDLQ(ctx, msg, cause); err != nil {
		p.log.WithError(err).Error("Failed to send message to DLQ")
		return OutcomeFailed
	}
	telemetry.RecordDLQMessage(sdk.TypeOf(cause).String())
	return OutcomeDeadLettered
}

// deliveriesExhausted reports whether msg was delivered maxDeliver times.
// Messages without JetStream metadata count as first deliveries.
func deliveriesExhausted(msg *nats.Msg, maxDeliver int) bool {
	if maxDeliver <= 0 {
		return false
	}
	meta, err := msg.Metadata()
	if err != nil {
		return maxDeliver <= 1
	}
	return meta.NumDelivered >= uint64(maxDeliver)
}

// reportMetrics reports current metrics
func (p *Processor) reportMetrics() {
	stats := p.metrics.GetStats()
	p.log.WithFields(logrus.Fields{
		"processed":     stats["messages_processed"],
		"succeeded":     stats["messages_succeeded"],
		"failed":        stats["messages_failed"],
		"redelivered":   stats["messages_redelivered"],
		"dead_lettered": stats["messages_dead_lettered"],
		"clients":       p.pool.Len(),
	}).Info("Worker metrics")

	if p.queueClient == nil {
		return
	}
	queueConfig := p.queueClient.GetConfig()
	if info, err := p.queueClient.ConsumerInfo(queueConfig.StreamName, queueConfig.ConsumerName); err == nil {
		telemetry.UpdateQueueDepth(queueConfig.StreamName, int(info.NumPending))
	}
}

// shutdown waits for the messages in flight
func (p *Processor) shutdown() error {
	p.log.Info("Worker shutting down gracefully")
	// Draining; stop advertising readiness
	p.metrics.SetHealthy(false)
	p.inflight.Wait()
	p.reportMetrics()
	return nil
}
