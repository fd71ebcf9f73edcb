package sdk

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/birbparty/qcloud-nest/sdk"

// Client calls the actions of one cloud service in one region.
//
// A Client holds only immutable state and is safe for concurrent use.
type Client struct {
	name      string
	config    Config
	versions  []string
	transport Transport
	retry     RetryPolicy
	observer  Observer
	log       logrus.FieldLogger
	tracer    trace.Tracer
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewClient resolves service in the registry and builds a client for region.
// If cfg is nil, DefaultClientConfig is used.
//
// Construction fails with:
//   - ErrConfiguration if region is empty or cfg is invalid
//   - ErrServiceNotFound / ErrServiceDefinition from resolution
//   - ErrDiscovery if the default registry cannot be loaded
//   - ErrAuthentication if no credentials are configured
//
// Example:
//
//	client, err := sdk.NewClient("cvm", "ap-guangzhou", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := client.Call(ctx, "DescribeInstances", map[string]interface{}{"Limit": 10}, nil)
func NewClient(service, region string, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if region == "" {
		return nil, NewError(ErrorTypeConfig, "region is required", nil)
	}

	reg := cfg.Registry
	if reg == nil {
		var err error
		if reg, err = DefaultRegistry(); err != nil {
			return nil, err
		}
	}

	resolver := NewResolver(reg)
	resolved, err := resolver.Resolve(service, cfg.Version)
	if err != nil {
		return nil, err
	}
	versions, err := resolver.Versions(service)
	if err != nil {
		return nil, err
	}

	creds, source, err := ResolveCredentials(cfg.SecretID, cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	resolved.Region = region
	resolved.SecretID = creds.SecretID
	resolved.SecretKey = creds.SecretKey

	transport := cfg.Transport
	if transport == nil {
		if transport, err = cfg.TransportFactory(resolved, cfg); err != nil {
			return nil, WrapError(err, "failed to create transport")
		}
	}

	cfg.Logger.WithFields(logrus.Fields{
		"service":     service,
		"module":      resolved.Module,
		"version":     resolved.Version,
		"region":      region,
		"credentials": source,
	}).Info("Creating a new client")

	return &Client{
		name:      service,
		config:    *resolved,
		versions:  versions,
		transport: transport,
		retry:     cfg.RetryPolicy,
		observer:  cfg.Observer,
		log:       cfg.Logger.WithField("service", service),
		tracer:    otel.Tracer(tracerName),
		sleep:     sleepContext,
	}, nil
}

// Call sends action with params and optional extra headers.
//
// A nil params map is sent as an empty object. Errors are always *Error:
// ErrServer for API error envelopes, ErrClient for requests rejected before
// dispatch, and ErrorTypeUnknown wrapping anything else.
func (c *Client) Call(ctx context.Context, action string, params map[string]interface{}, headers map[string]string) (*Response, error) {
	if action == "" {
		return nil, NewClientError("ClientError.EmptyAction", "action is required", nil).withCall(c.name, action)
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	ctx, span := c.tracer.Start(ctx, c.config.Module+"."+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("qcloud.service", c.name),
			attribute.String("qcloud.module", c.config.Module),
			attribute.String("qcloud.version", c.config.Version),
			attribute.String("qcloud.region", c.config.Region),
			attribute.String("qcloud.action", action),
		))
	defer span.End()

	c.log.WithFields(logrus.Fields{
		"action": action,
		"params": params,
	}).Infof("Calling action: %s", action)

	c.observer.OnCallStart(c.name, action)
	start := time.Now()

	resp, err := c.dispatch(ctx, action, params, headers)
	duration := time.Since(start)
	c.observer.OnCallEnd(c.name, action, duration, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if rid := RequestIDOf(err); rid != "" {
			span.SetAttributes(attribute.String("qcloud.request_id", rid))
		}
		c.log.WithError(err).WithFields(logrus.Fields{
			"action":      action,
			"duration_ms": duration.Milliseconds(),
		}).Debug("Action failed")
		return nil, err
	}

	span.SetAttributes(attribute.String("qcloud.request_id", resp.RequestID))
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (c *Client) dispatch(ctx context.Context, action string, params map[string]interface{}, headers map[string]string) (*Response, error) {
	body, err := c.transport.Call(ctx, action, params, headers)
	if err != nil {
		return nil, WrapError(err, "transport failed").withCall(c.name, action)
	}
	resp, err := DecodeResponse(body)
	if err != nil {
		return nil, WrapError(err, "invalid response").withCall(c.name, action)
	}
	return resp, nil
}

// Service returns the registry name the client was built for.
func (c *Client) Service() string { return c.name }

// Module returns the API module identifier.
func (c *Client) Module() string { return c.config.Module }

// Version returns the API version in use.
func (c *Client) Version() string { return c.config.Version }

// Endpoint returns the API host.
func (c *Client) Endpoint() string { return c.config.Endpoint }

// Region returns the region the client calls into.
func (c *Client) Region() string { return c.config.Region }

// AvailableVersions returns every version listed for the service, newest first.
func (c *Client) AvailableVersions() []string {
	return append([]string(nil), c.versions...)
}

// Config returns a copy of the resolved configuration.
func (c *Client) Config() Config { return c.config }

// RetryPolicy returns the policy used by CallWithRetry.
func (c *Client) RetryPolicy() RetryPolicy { return c.retry }
