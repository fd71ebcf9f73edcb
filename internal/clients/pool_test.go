package clients

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/qcloud-nest/sdk"
)

type stubCaller struct {
	service, version, region string
}

func (s *stubCaller) Call(ctx context.Context, action string, params map[string]interface{}, headers map[string]string) (*sdk.Response, error) {
	return &sdk.Response{RequestID: "req"}, nil
}

func (s *stubCaller) CallWithRetryPolicy(ctx context.Context, policy sdk.RetryPolicy, action string, params map[string]interface{}, headers map[string]string) (*sdk.Response, error) {
	return s.Call(ctx, action, params, headers)
}

func (s *stubCaller) Service() string { return s.service }
func (s *stubCaller) Version() string { return s.version }
func (s *stubCaller) Region() string  { return s.region }

func TestPool_Get(t *testing.T) {
	var built int32
	pool := NewPool(func(service, version, region string) (Caller, error) {
		atomic.AddInt32(&built, 1)
		if service == "nonexistent" {
			return nil, sdk.NewError(sdk.ErrorTypeServiceNotFound, "service nonexistent not found", nil)
		}
		return &stubCaller{service, version, region}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := pool.Get("cvm", "", "ap-guangzhou")
			assert.NoError(t, err)
			assert.Equal(t, "cvm", c.Service())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&built))

	_, err := pool.Get("cvm", "2017-03-12", "ap-guangzhou")
	require.NoError(t, err)
	_, err = pool.Get("cvm", "", "ap-shanghai")
	require.NoError(t, err)
	assert.Equal(t, []string{"cvm//ap-guangzhou", "cvm//ap-shanghai", "cvm/2017-03-12/ap-guangzhou"}, pool.Keys())

	_, err = pool.Get("nonexistent", "", "ap-guangzhou")
	assert.True(t, errors.Is(err, sdk.ErrServiceNotFound))
	_, err = pool.Get("nonexistent", "", "ap-guangzhou")
	assert.Error(t, err)
	assert.Equal(t, 3, pool.Len())
	assert.Equal(t, int32(5), atomic.LoadInt32(&built))

	pool.Reset()
	assert.Zero(t, pool.Len())
}

func TestNewFactory(t *testing.T) {
	reg := sdk.NewRegistry("endpoints_20260101.json", map[string]sdk.ServiceDescriptor{
		"cvm": {Name: "cvm", Service: "cvm", Endpoint: "cvm.tencentcloudapi.com", APIVersions: []string{"2017-03-12"}},
	})
	cfg := &Config{Timeout: time.Second, HTTPRetries: 2, RetryPolicy: sdk.DefaultRetryPolicy(), SecretID: "id", SecretKey: "key"}

	factory := NewFactory(cfg, reg, sdk.NewMetricsCollector(), nil)
	client, err := factory("cvm", "", "ap-guangzhou")
	require.NoError(t, err)
	assert.Equal(t, "2017-03-12", client.Version())
	assert.Equal(t, "ap-guangzhou", client.Region())

	_, err = factory("cvm", "2001-01-01", "ap-guangzhou")
	assert.True(t, errors.Is(err, sdk.ErrServiceDefinition))
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("QCLOUD_MAX_RETRIES", "2")
	t.Setenv("QCLOUD_RETRY_DELAY", "100ms")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, sdk.RetryPolicy{MaxRetries: 2, Delay: 100 * time.Millisecond}, cfg.RetryPolicy)
	assert.Equal(t, sdk.DefaultRetryLimits(), cfg.RetryLimits)

	clientCfg := cfg.ClientConfig()
	assert.Nil(t, clientCfg.HTTPRetry)
	assert.Equal(t, cfg.RetryPolicy, clientCfg.RetryPolicy)

	t.Setenv("QCLOUD_MAX_RETRIES", "0")
	t.Setenv("QCLOUD_RETRY_DELAY", "0s")
	t.Setenv("QCLOUD_RETRY_LIMIT", "3")
	cfg, err = NewConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, sdk.RetryPolicy{}, cfg.ClientConfig().RetryPolicy)
	assert.Equal(t, 3, cfg.RetryLimits.MaxRetries)

	t.Setenv("QCLOUD_TIMEOUT", "forever")
	_, err = NewConfigFromEnv()
	assert.ErrorContains(t, err, "QCLOUD_TIMEOUT")
}
