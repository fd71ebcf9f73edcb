package sdk

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockTransport is a mock implementation of Transport
type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Call(ctx context.Context, action string, params map[string]interface{}, headers map[string]string) ([]byte, error) {
	args := m.Called(ctx, action, params, headers)
	body, _ := args.Get(0).([]byte)
	return body, args.Error(1)
}

func okBody(requestID string) []byte {
	return []byte(`{"Response": {"TotalCount": 1, "RequestId": "` + requestID + `"}}`)
}

func testClientConfig(t *testing.T, transport Transport) *ClientConfig {
	t.Helper()
	return DefaultClientConfig().
		WithRegistry(testRegistry()).
		WithCredentials("id", "key").
		WithTransport(transport)
}

func TestNewClient(t *testing.T) {
	t.Run("resolves the newest version", func(t *testing.T) {
		client, err := NewClient("monitor", "ap-guangzhou", testClientConfig(t, &mockTransport{}))
		require.NoError(t, err)

		assert.Equal(t, "monitor", client.Service())
		assert.Equal(t, "monitor", client.Module())
		assert.Equal(t, "2020-10-28", client.Version())
		assert.Equal(t, "monitor.tencentcloudapi.com", client.Endpoint())
		assert.Equal(t, "ap-guangzhou", client.Region())
		assert.Equal(t, []string{"2020-10-28", "2017-03-12"}, client.AvailableVersions())

		cfg := client.Config()
		assert.Equal(t, "id", cfg.SecretID)
		assert.Equal(t, "key", cfg.SecretKey)
		assert.Equal(t, DefaultRetryPolicy(), client.RetryPolicy())
	})

	t.Run("pinned version", func(t *testing.T) {
		cfg := testClientConfig(t, &mockTransport{}).WithVersion("2017-03-12")
		client, err := NewClient("monitor", "ap-guangzhou", cfg)
		require.NoError(t, err)
		assert.Equal(t, "2017-03-12", client.Version())
	})

	t.Run("unknown service", func(t *testing.T) {
		_, err := NewClient("nonexistent", "ap-guangzhou", testClientConfig(t, &mockTransport{}))
		assert.True(t, errors.Is(err, ErrServiceNotFound))
	})

	t.Run("unknown version", func(t *testing.T) {
		cfg := testClientConfig(t, &mockTransport{}).WithVersion("2001-01-01")
		_, err := NewClient("cvm", "ap-guangzhou", cfg)
		assert.True(t, errors.Is(err, ErrServiceDefinition))
	})

	t.Run("missing region", func(t *testing.T) {
		_, err := NewClient("cvm", "", testClientConfig(t, &mockTransport{}))
		assert.True(t, errors.Is(err, ErrConfiguration))
	})

	t.Run("no credentials", func(t *testing.T) {
		t.Setenv(EnvSecretID, "")
		t.Setenv(EnvSecretKey, "")

		cfg := testClientConfig(t, &mockTransport{}).WithCredentials("", "")
		_, err := NewClient("cvm", "ap-guangzhou", cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAuthentication))
	})

	t.Run("credentials from environment", func(t *testing.T) {
		t.Setenv(EnvSecretID, "env-id")
		t.Setenv(EnvSecretKey, "env-key")

		cfg := testClientConfig(t, &mockTransport{}).WithCredentials("", "")
		client, err := NewClient("cvm", "ap-guangzhou", cfg)
		require.NoError(t, err)
		assert.Equal(t, "env-id", client.Config().SecretID)
	})

	t.Run("transport factory receives the resolved config", func(t *testing.T) {
		var got *Config
		cfg := testClientConfig(t, nil).WithTransportFactory(func(c *Config, _ *ClientConfig) (Transport, error) {
			got = c
			return &mockTransport{}, nil
		})
		cfg.Transport = nil

		_, err := NewClient("mysql", "ap-shanghai", cfg)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, Config{
			Module:    "cdb",
			Version:   "2017-03-20",
			Endpoint:  "cdb.tencentcloudapi.com",
			Region:    "ap-shanghai",
			SecretID:  "id",
			SecretKey: "key",
		}, *got)
	})

	t.Run("transport factory failure is wrapped", func(t *testing.T) {
		cause := errors.New("no route")
		cfg := testClientConfig(t, nil).WithTransportFactory(func(*Config, *ClientConfig) (Transport, error) {
			return nil, cause
		})
		cfg.Transport = nil

		_, err := NewClient("cvm", "ap-guangzhou", cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, cause))
		assert.Equal(t, ErrorTypeUnknown, TypeOf(err))
	})

	t.Run("default registry", func(t *testing.T) {
		cfg := DefaultClientConfig().WithCredentials("id", "key").WithTransport(&mockTransport{})
		client, err := NewClient("cvm", "ap-guangzhou", cfg)
		require.NoError(t, err)
		assert.Equal(t, "cvm.tencentcloudapi.com", client.Endpoint())
	})
}

func TestClient_Call(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		transport := &mockTransport{}
		params := map[string]interface{}{"Limit": 10}
		headers := map[string]string{"X-TC-TraceId": "abc"}
		transport.On("Call", mock.Anything, "DescribeInstances", params, headers).Return(okBody("req-1"), nil).Once()

		client, err := NewClient("cvm", "ap-guangzhou", testClientConfig(t, transport))
		require.NoError(t, err)

		resp, err := client.Call(ctx, "DescribeInstances", params, headers)
		require.NoError(t, err)
		assert.Equal(t, "req-1", resp.RequestID)
		transport.AssertExpectations(t)
	})

	t.Run("nil params become an empty object", func(t *testing.T) {
		transport := &mockTransport{}
		transport.On("Call", mock.Anything, "DescribeRegions", map[string]interface{}{}, map[string]string(nil)).
			Return(okBody("req-2"), nil).Once()

		client, err := NewClient("cvm", "ap-guangzhou", testClientConfig(t, transport))
		require.NoError(t, err)

		_, err = client.Call(ctx, "DescribeRegions", nil, nil)
		require.NoError(t, err)
		transport.AssertExpectations(t)
	})

	t.Run("empty action is a client error", func(t *testing.T) {
		transport := &mockTransport{}
		client, err := NewClient("cvm", "ap-guangzhou", testClientConfig(t, transport))
		require.NoError(t, err)

		_, err = client.Call(ctx, "", nil, nil)
		assert.True(t, errors.Is(err, ErrClient))
		transport.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("error envelope is a server error", func(t *testing.T) {
		transport := &mockTransport{}
		transport.On("Call", mock.Anything, "StopInstances", mock.Anything, mock.Anything).
			Return([]byte(`{"Response": {"Error": {"Code": "InvalidInstanceId.NotFound", "Message": "not found"}, "RequestId": "req-3"}}`), nil)

		client, err := NewClient("cvm", "ap-guangzhou", testClientConfig(t, transport))
		require.NoError(t, err)

		_, err = client.Call(ctx, "StopInstances", nil, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrServer))

		var sdkErr *Error
		require.True(t, errors.As(err, &sdkErr))
		assert.Equal(t, "InvalidInstanceId.NotFound", sdkErr.Code)
		assert.Equal(t, "req-3", sdkErr.RequestID)
		assert.Equal(t, "cvm", sdkErr.Service)
		assert.Equal(t, "StopInstances", sdkErr.Action)
	})

	t.Run("transport sdk errors pass through", func(t *testing.T) {
		transport := &mockTransport{}
		transport.On("Call", mock.Anything, "RunInstances", mock.Anything, mock.Anything).
			Return(nil, NewClientError("ClientError.NetworkError", "dial failed", nil))

		client, err := NewClient("cvm", "ap-guangzhou", testClientConfig(t, transport))
		require.NoError(t, err)

		_, err = client.Call(ctx, "RunInstances", nil, nil)
		assert.True(t, errors.Is(err, ErrClient))
	})

	t.Run("foreign errors are wrapped with their cause", func(t *testing.T) {
		cause := errors.New("tls handshake timeout")
		transport := &mockTransport{}
		transport.On("Call", mock.Anything, "RunInstances", mock.Anything, mock.Anything).Return(nil, cause)

		client, err := NewClient("cvm", "ap-guangzhou", testClientConfig(t, transport))
		require.NoError(t, err)

		_, err = client.Call(ctx, "RunInstances", nil, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrWrapper))
		assert.True(t, errors.Is(err, cause))
		assert.Equal(t, ErrorTypeUnknown, TypeOf(err))
	})

	t.Run("logs action and params at info", func(t *testing.T) {
		var buf bytes.Buffer
		log := logrus.New()
		log.Out = &buf
		log.SetLevel(logrus.InfoLevel)

		transport := &mockTransport{}
		transport.On("Call", mock.Anything, "DescribeInstances", mock.Anything, mock.Anything).Return(okBody("req-4"), nil)

		client, err := NewClient("cvm", "ap-guangzhou", testClientConfig(t, transport).WithLogger(log))
		require.NoError(t, err)

		_, err = client.Call(ctx, "DescribeInstances", map[string]interface{}{"Limit": 5}, nil)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "Calling action: DescribeInstances")
		assert.Contains(t, buf.String(), "Limit:5")
		assert.Contains(t, buf.String(), "level=info")
	})

	t.Run("observer sees every call", func(t *testing.T) {
		metrics := NewMetricsCollector()
		transport := &mockTransport{}
		transport.On("Call", mock.Anything, "DescribeInstances", mock.Anything, mock.Anything).Return(okBody("req-5"), nil).Once()
		transport.On("Call", mock.Anything, "DescribeInstances", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

		client, err := NewClient("cvm", "ap-guangzhou", testClientConfig(t, transport).WithObserver(metrics))
		require.NoError(t, err)

		_, _ = client.Call(ctx, "DescribeInstances", nil, nil)
		_, _ = client.Call(ctx, "DescribeInstances", nil, nil)

		assert.Equal(t, int64(2), metrics.Calls("cvm", "DescribeInstances"))
		snapshot := metrics.GetMetrics()
		assert.Equal(t, int64(1), snapshot["errors"].(map[string]int64)["cvm.DescribeInstances"])
		assert.Equal(t, int64(1), snapshot["error_types"].(map[string]int64)["unknown"])
		assert.Len(t, snapshot["latencies"].(map[string][]time.Duration)["cvm.DescribeInstances"], 2)
	})
}
