package sdk

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/sirupsen/logrus"
)

// Config is the resolved configuration of one client: which module and API
// version to call, where, and with which credentials.
//
// The resolver fills Module, Version and Endpoint; NewClient adds Region and
// the credentials. A Config is not modified after the client is built.
type Config struct {
	Module    string `mapstructure:"module" json:"module" yaml:"module"`
	Version   string `mapstructure:"version" json:"version" yaml:"version"`
	Endpoint  string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	Region    string `mapstructure:"region" json:"region" yaml:"region"`
	SecretID  string `mapstructure:"secret_id" json:"secret_id,omitempty" yaml:"secret_id"`
	SecretKey string `mapstructure:"secret_key" json:"-" yaml:"secret_key"`
}

// Validate checks that every field needed to call the API is set.
func (c *Config) Validate() error {
	missing := []string{}
	if c.Module == "" {
		missing = append(missing, "module")
	}
	if c.Version == "" {
		missing = append(missing, "version")
	}
	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.Region == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return NewError(ErrorTypeConfig,
			fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")), nil)
	}
	if c.SecretID == "" || c.SecretKey == "" {
		return NewError(ErrorTypeAuthentication, "secret id and secret key are required", nil)
	}
	return nil
}

// String renders the config with the secret key redacted.
func (c Config) String() string {
	return fmt.Sprintf("module=%s version=%s endpoint=%s region=%s secret_id=%s",
		c.Module, c.Version, c.Endpoint, c.Region, c.SecretID)
}

// DecodeConfig builds a Config from a generic map such as a parsed YAML or
// JSON document. Keys are matched ignoring case, "_" and "-", so "SecretId",
// "secret_id" and "secret-id" are equivalent.
//
// Keys that match no field are returned sorted and, when log is non-nil,
// reported at warn level. Values of the wrong type fail with ErrConfiguration.
//
// Example:
//
//	cfg, unused, err := sdk.DecodeConfig(map[string]interface{}{
//	    "Module": "cvm", "Version": "2017-03-12", "Region": "ap-guangzhou",
//	    "Zone": "ap-guangzhou-3",
//	}, logger)
//	// unused == []string{"Zone"}
func DecodeConfig(input map[string]interface{}, log logrus.FieldLogger) (*Config, []string, error) {
	cfg := &Config{}
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           cfg,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return nil, nil, NewError(ErrorTypeConfig, "failed to build config decoder", err)
	}
	if err := decoder.Decode(input); err != nil {
		return nil, nil, NewError(ErrorTypeConfig, "failed to decode config", err)
	}

	unused := append([]string(nil), md.Unused...)
	sort.Strings(unused)
	if len(unused) > 0 && log != nil {
		log.WithField("fields", unused).Warnf("%s fields are useless", strings.Join(unused, ", "))
	}
	return cfg, unused, nil
}

func normalizeKey(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "")
	return strings.ReplaceAll(s, "-", "")
}

// HTTPRetryConfig enables retries of the HTTP exchange itself on 429 and 5xx
// responses. It is independent of the task-in-progress RetryPolicy.
type HTTPRetryConfig struct {
	MaxRetries int
	WaitMin    time.Duration
	WaitMax    time.Duration
}

// ClientConfig holds the optional settings of a Client. All fields have
// defaults; build it with the fluent With* methods.
//
// Example:
//
//	cfg := sdk.DefaultClientConfig().
//	    WithVersion("2017-03-12").
//	    WithCredentials(id, key).
//	    WithRetryPolicy(sdk.RetryPolicy{MaxRetries: 10, Delay: 2 * time.Second})
//
//	client, err := sdk.NewClient("cvm", "ap-guangzhou", cfg)
type ClientConfig struct {
	// Version pins an API version. Empty selects the newest listed version.
	Version string

	// SecretID and SecretKey are explicit credentials. When either is empty
	// the TENCENTCLOUD_SECRET_ID and TENCENTCLOUD_SECRET_KEY variables are used.
	SecretID  string
	SecretKey string

	// Registry overrides the bundled DefaultRegistry.
	Registry *Registry

	// RetryPolicy is used by CallWithRetry. It is taken as given, so a zero
	// policy makes a single call.
	// Default (DefaultClientConfig): 5 retries, 5s apart
	RetryPolicy RetryPolicy

	// Timeout bounds one HTTP exchange.
	// Default: 60s
	Timeout time.Duration

	// HTTPRetry enables transport level retries. Nil disables them.
	HTTPRetry *HTTPRetryConfig

	// Transport is used as-is when set, bypassing TransportFactory.
	Transport Transport

	// TransportFactory builds the transport from the resolved Config.
	// Default: NewTencentTransport
	TransportFactory TransportFactory

	// Observer receives call and retry notifications.
	// Default: NoopObserver
	Observer Observer

	// Logger receives call logs. Default: a logger that discards output.
	Logger logrus.FieldLogger
}

// DefaultClientConfig returns a ClientConfig with defaults applied.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RetryPolicy:      DefaultRetryPolicy(),
		Timeout:          60 * time.Second,
		TransportFactory: NewTencentTransport,
		Observer:         &NoopObserver{},
		Logger:           discardLogger(),
	}
}

// WithVersion pins the API version.
func (c *ClientConfig) WithVersion(version string) *ClientConfig {
	c.Version = version
	return c
}

// WithCredentials sets explicit credentials.
func (c *ClientConfig) WithCredentials(secretID, secretKey string) *ClientConfig {
	c.SecretID = secretID
	c.SecretKey = secretKey
	return c
}

// WithRegistry uses reg instead of the bundled registry.
func (c *ClientConfig) WithRegistry(reg *Registry) *ClientConfig {
	c.Registry = reg
	return c
}

// WithRetryPolicy sets the policy used by CallWithRetry.
func (c *ClientConfig) WithRetryPolicy(policy RetryPolicy) *ClientConfig {
	c.RetryPolicy = policy
	return c
}

// WithTimeout sets the per-request HTTP timeout.
func (c *ClientConfig) WithTimeout(timeout time.Duration) *ClientConfig {
	c.Timeout = timeout
	return c
}

// WithHTTPRetry enables transport level retries on 429 and 5xx responses.
func (c *ClientConfig) WithHTTPRetry(cfg HTTPRetryConfig) *ClientConfig {
	c.HTTPRetry = &cfg
	return c
}

// WithTransport injects a ready transport.
func (c *ClientConfig) WithTransport(t Transport) *ClientConfig {
	c.Transport = t
	return c
}

// WithTransportFactory replaces the transport constructor.
func (c *ClientConfig) WithTransportFactory(f TransportFactory) *ClientConfig {
	c.TransportFactory = f
	return c
}

// WithObserver sets the observer.
func (c *ClientConfig) WithObserver(o Observer) *ClientConfig {
	c.Observer = o
	return c
}

// WithLogger sets the logger.
func (c *ClientConfig) WithLogger(log logrus.FieldLogger) *ClientConfig {
	c.Logger = log
	return c
}

// Validate checks the config for invalid values.
func (c *ClientConfig) Validate() error {
	if c.Timeout < 0 {
		return NewError(ErrorTypeConfig, "timeout must not be negative", nil)
	}
	if c.RetryPolicy.MaxRetries < 0 {
		return NewError(ErrorTypeConfig, "max retries must not be negative", nil)
	}
	if c.RetryPolicy.Delay < 0 {
		return NewError(ErrorTypeConfig, "retry delay must not be negative", nil)
	}
	if c.HTTPRetry != nil && c.HTTPRetry.WaitMax < c.HTTPRetry.WaitMin {
		return NewError(ErrorTypeConfig, "http retry max wait must not be less than min wait", nil)
	}
	if c.Transport == nil && c.TransportFactory == nil {
		return NewError(ErrorTypeConfig, "either a transport or a transport factory is required", nil)
	}
	return nil
}

// withDefaults fills zero fields of a caller-built config.
func (c *ClientConfig) withDefaults() *ClientConfig {
	out := *c
	if out.Timeout == 0 {
		out.Timeout = 60 * time.Second
	}
	if out.TransportFactory == nil {
		out.TransportFactory = NewTencentTransport
	}
	if out.Observer == nil {
		out.Observer = &NoopObserver{}
	}
	if out.Logger == nil {
		out.Logger = discardLogger()
	}
	return &out
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}
