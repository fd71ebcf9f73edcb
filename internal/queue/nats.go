package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/birbparty/qcloud-nest/internal/telemetry"
)

// ErrResultNotFound is returned when no result exists for a message id
var ErrResultNotFound = errors.New("result not found")

// Client represents a NATS JetStream client
type Client struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config *Config
}

// NewClient connects to NATS and makes sure the streams exist
func NewClient(config *Config) (*Client, error) {
	log := telemetry.L().WithField("component", "nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Error("NATS error")
		}),
	}

	if config.User != "" && config.Password != "" {
		opts = append(opts, nats.UserInfo(config.User, config.Password))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{
		nc:     nc,
		js:     js,
		config: config,
	}

	if err := client.initializeStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return client, nil
}

func (c *Client) streamConfigs() []*nats.StreamConfig {
	return []*nats.StreamConfig{
		{
			Name:        c.config.StreamName,
			Description: "Cloud API actions awaiting execution",
			Subjects:    []string{SubjectActions},
			Retention:   nats.WorkQueuePolicy,
			MaxAge:      c.config.StreamMaxAge,
			MaxBytes:    c.config.StreamMaxBytes,
			MaxMsgs:     c.config.StreamMaxMsgs,
			MaxMsgSize:  c.config.StreamMaxMsgSize,
			Replicas:    c.config.StreamReplicas,
			Duplicates:  5 * time.Minute,
			Storage:     nats.FileStorage,
		},
		{
			Name:        c.config.DLQStreamName,
			Description: "Cloud API actions that could not be executed",
			Subjects:    []string{SubjectDLQ},
			Retention:   nats.LimitsPolicy,
			MaxAge:      c.config.DLQMaxAge,
			MaxBytes:    c.config.StreamMaxBytes / 10,
			MaxMsgs:     c.config.StreamMaxMsgs / 10,
			MaxMsgSize:  c.config.StreamMaxMsgSize,
			Replicas:    c.config.StreamReplicas,
			Storage:     nats.FileStorage,
		},
		{
			Name:              c.config.ResultStreamName,
			Description:       "Outcome of executed cloud API actions",
			Subjects:          []string{SubjectResults},
			Retention:         nats.LimitsPolicy,
			MaxAge:            c.config.ResultMaxAge,
			MaxMsgsPerSubject: 1,
			MaxBytes:          c.config.StreamMaxBytes,
			MaxMsgSize:        c.config.StreamMaxMsgSize,
			Replicas:          c.config.StreamReplicas,
			Storage:           nats.FileStorage,
		},
	}
}

// initializeStreams creates or updates the JetStream streams
func (c *Client) initializeStreams() error {
	for _, cfg := range c.streamConfigs() {
		if _, err := c.js.AddStream(cfg); err != nil {
			if _, err = c.js.UpdateStream(cfg); err != nil {
				return fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// publish sends msg through JetStream and waits for the ack
func (c *Client) publish(ctx context.Context, msg *nats.Msg, opts ...nats.PubOpt) error {
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	pubAck, err := c.js.PublishMsgAsync(msg, opts...)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}

	select {
	case <-pubAck.Ok():
		return nil
	case err := <-pubAck.Err():
		return fmt.Errorf("publish to %s failed: %w", msg.Subject, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAction enqueues an action; the message id deduplicates resubmissions
func (c *Client) PublishAction(ctx context.Context, msg *ActionMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal action message: %w", err)
	}

	return c.publish(ctx, &nats.Msg{Subject: SubjectActions, Data: data}, nats.MsgId(msg.ID))
}

// PublishResult stores the outcome of an action
func (c *Client) PublishResult(ctx context.Context, res *ResultMessage) error {
	data, err := res.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal result message: %w", err)
	}

	return c.publish(ctx, &nats.Msg{Subject: ResultSubject(res.ID), Data: data})
}

// GetResult returns the stored result of a message id
func (c *Client) GetResult(ctx context.Context, id string) (*ResultMessage, error) {
	raw, err := c.js.GetLastMsg(c.config.ResultStreamName, ResultSubject(id), nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrMsgNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return UnmarshalResultMessage(raw.Data)
}

// MessageContext extracts the trace context carried by a message
func MessageContext(ctx context.Context, msg *nats.Msg) context.Context {
	if msg.Header == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))
}

// CreateConsumer creates a durable pull consumer on the actions stream
func (c *Client) CreateConsumer(streamName, consumerName string) (*nats.ConsumerInfo, error) {
	consumerConfig := &nats.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       c.config.ConsumerAckWait,
		MaxDeliver:    c.config.ConsumerMaxDeliver,
		MaxAckPending: c.config.ConsumerMaxAckPending,
		ReplayPolicy:  nats.ReplayInstantPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
	}

	info, err := c.js.AddConsumer(streamName, consumerConfig)
	if err != nil {
		info, err = c.js.UpdateConsumer(streamName, consumerConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create/update consumer: %w", err)
		}
	}

	return info, nil
}

// Subscribe binds to a durable consumer and feeds fetched messages to handler
// until ctx is done
func (c *Client) Subscribe(ctx context.Context, streamName, consumerName string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.js.PullSubscribe(
		"",
		consumerName,
		nats.ManualAck(),
		nats.Bind(streamName, consumerName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	log := telemetry.L().WithField("consumer", consumerName)
	fetch := func() ([]*nats.Msg, error) {
		return sub.Fetch(c.config.BatchSize, nats.MaxWait(c.config.BatchTimeout))
	}
	go fetchLoop(ctx, fetch, handler, log, fetchBackoffMin, fetchBackoffMax)

	return sub, nil
}

const (
	fetchBackoffMin = 250 * time.Millisecond
	fetchBackoffMax = 10 * time.Second
)

// fetchLoop pulls batches until ctx is done or the subscription is gone.
// Unexpected fetch errors back off exponentially between minWait and maxWait.
func fetchLoop(ctx context.Context, fetch func() ([]*nats.Msg, error), handler nats.MsgHandler, log logrus.FieldLogger, minWait, maxWait time.Duration) {
	wait := minWait
	for ctx.Err() == nil {
		msgs, err := fetch()
		if err != nil {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			log.WithError(err).WithField("backoff", wait).Warn("Error fetching messages")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait = min(wait*2, maxWait)
			continue
		}

		wait = minWait
		for _, msg := range msgs {
			handler(msg)
		}
	}
}

// Health checks the NATS connection health
func (c *Client) Health() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}

	if _, err := c.js.AccountInfo(); err != nil {
		return fmt.Errorf("JetStream health check failed: %w", err)
	}

	return nil
}

// Close closes the NATS connection
func (c *Client) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}

// StreamInfo returns information about a stream
func (c *Client) StreamInfo(streamName string) (*nats.StreamInfo, error) {
	return c.js.StreamInfo(streamName)
}

// ConsumerInfo returns information about a consumer
func (c *Client) ConsumerInfo(streamName, consumerName string) (*nats.ConsumerInfo, error) {
	return c.js.ConsumerInfo(streamName, consumerName)
}

// GetConfig returns the client configuration
func (c *Client) GetConfig() *Config {
	return c.config
}

// Conn returns the underlying NATS connection
func (c *Client) Conn() *nats.Conn {
	return c.nc
}
