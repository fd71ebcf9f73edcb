// Package clients keeps one sdk.Client per service, version and region
package clients

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/qcloud-nest/sdk"
)

// Caller is the part of *sdk.Client the gateway and worker use
type Caller interface {
	Call(ctx context.Context, action string, params map[string]interface{}, headers map[string]string) (*sdk.Response, error)
	CallWithRetryPolicy(ctx context.Context, policy sdk.RetryPolicy, action string, params map[string]interface{}, headers map[string]string) (*sdk.Response, error)
	Service() string
	Version() string
	Region() string
}

// Factory builds the client for a key. version may be empty.
type Factory func(service, version, region string) (Caller, error)

// NewFactory returns a Factory creating real clients against reg.
// observer and log may be nil.
func NewFactory(cfg *Config, reg *sdk.Registry, observer sdk.Observer, log logrus.FieldLogger) Factory {
	return func(service, version, region string) (Caller, error) {
		clientCfg := cfg.ClientConfig().WithVersion(version).WithRegistry(reg)
		if observer != nil {
			clientCfg = clientCfg.WithObserver(observer)
		}
		if log != nil {
			clientCfg = clientCfg.WithLogger(log)
		}
		return sdk.NewClient(service, region, clientCfg)
	}
}

// Pool caches clients. Failed constructions are not cached.
type Pool struct {
	factory Factory
	mu      sync.RWMutex
	clients map[string]Caller
}

// NewPool creates an empty pool
func NewPool(factory Factory) *Pool {
	return &Pool{
		factory: factory,
		clients: make(map[string]Caller),
	}
}

func buildKey(service, version, region string) string {
	return fmt.Sprintf("%s/%s/%s", service, version, region)
}

// Get returns the pooled client for the key, creating it on first use
func (p *Pool) Get(service, version, region string) (Caller, error) {
	key := buildKey(service, version, region)

	p.mu.RLock()
	client, ok := p.clients[key]
	p.mu.RUnlock()
	if ok {
		return client, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[key]; ok {
		return client, nil
	}

	client, err := p.factory(service, version, region)
	if err != nil {
		return nil, err
	}
	p.clients[key] = client
	return client, nil
}

// Len returns the number of pooled clients
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Keys returns the pooled keys, sorted
func (p *Pool) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.clients))
	for k := range p.clients {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset drops every pooled client, e.g. after the registry was reloaded
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients = make(map[string]Caller)
}
