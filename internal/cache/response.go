package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/qcloud-nest/internal/telemetry"
	"github.com/birbparty/qcloud-nest/sdk"
)

// KeyPrefix namespaces every cached API response
const KeyPrefix = "qcloud:resp:"

// readOnlyPrefixes are the action verbs that never change cloud state
var readOnlyPrefixes = []string{"Describe", "List", "Get", "Inquiry", "Query"}

// IsReadOnlyAction reports whether action only reads cloud state
func IsReadOnlyAction(action string) bool {
	for _, p := range readOnlyPrefixes {
		if strings.HasPrefix(action, p) {
			return true
		}
	}
	return false
}

// Target identifies the service endpoint a response came from.
// *sdk.Client satisfies it.
type Target interface {
	Service() string
	Version() string
	Region() string
}

// ResponseKey builds the cache key of an action call.
// Params are hashed from their JSON encoding, which sorts map keys.
func ResponseKey(t Target, action string, params map[string]interface{}) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s%s:%s:%s:%s:%s",
		KeyPrefix, t.Service(), t.Version(), t.Region(), action, hex.EncodeToString(sum[:])), nil
}

// ResponseCache stores successful responses of read-only actions
type ResponseCache struct {
	cache Cache
	ttl   time.Duration
	log   logrus.FieldLogger
}

// NewResponseCache wraps a Cache; ttl 0 defers to the backend default
func NewResponseCache(c Cache, ttl time.Duration, log logrus.FieldLogger) *ResponseCache {
	if log == nil {
		log = telemetry.L()
	}
	return &ResponseCache{cache: c, ttl: ttl, log: log}
}

// Fetch returns the cached response for the call when present, otherwise runs
// fetch and caches its result. Calls that are not read-only always run fetch.
// The second return value reports a cache hit. Cache failures are logged and
// never fail the call.
func (rc *ResponseCache) Fetch(ctx context.Context, t Target, action string, params map[string]interface{},
	fetch func(context.Context) (*sdk.Response, error)) (*sdk.Response, bool, error) {
	if !IsReadOnlyAction(action) {
		resp, err := fetch(ctx)
		return resp, false, err
	}

	key, err := ResponseKey(t, action, params)
	if err != nil {
		resp, err := fetch(ctx)
		return resp, false, err
	}

	if resp, ok := rc.get(ctx, key); ok {
		return resp, true, nil
	}

	resp, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	rc.put(ctx, key, resp)
	return resp, false, nil
}

func (rc *ResponseCache) get(ctx context.Context, key string) (*sdk.Response, bool) {
	done := telemetry.TimeOperation(ctx, "cache_get")

	raw, err := rc.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			done("miss")
		} else {
			done("error")
			rc.log.WithError(err).WithField("key", key).Warn("Response cache read failed")
		}
		telemetry.RecordCacheMiss()
		return nil, false
	}

	var resp sdk.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		done("error")
		rc.log.WithError(err).WithField("key", key).Warn("Dropping undecodable cache entry")
		_ = rc.cache.Delete(ctx, key)
		telemetry.RecordCacheMiss()
		return nil, false
	}

	done("hit")
	telemetry.RecordCacheHit()
	return &resp, true
}

func (rc *ResponseCache) put(ctx context.Context, key string, resp *sdk.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := rc.cache.Set(ctx, key, raw, rc.ttl); err != nil {
		rc.log.WithError(err).WithField("key", key).Warn("Response cache write failed")
	}
}

// Invalidate drops every cached response of a service
func (rc *ResponseCache) Invalidate(ctx context.Context, service string) (int, error) {
	return rc.cache.DeletePrefix(ctx, KeyPrefix+service+":")
}
