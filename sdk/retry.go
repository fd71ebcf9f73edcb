package sdk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// TaskInProgressMarkers are the message fragments the API uses when an
// operation cannot start because another one on the same resource is running.
var TaskInProgressMarkers = []string{
	"tasks are being processed",
	"task is working",
}

// RetryPolicy controls CallWithRetry. The delay between attempts is fixed.
//
// Example:
//
//	policy := sdk.RetryPolicy{MaxRetries: 10, Delay: 3 * time.Second}
//	resp, err := client.CallWithRetryPolicy(ctx, policy, "TerminateInstances", params, nil)
type RetryPolicy struct {
	// MaxRetries is the number of calls made after the first one.
	// Default: 5
	MaxRetries int

	// Delay is the wait between two calls.
	// Default: 5s
	Delay time.Duration

	// Markers overrides TaskInProgressMarkers when non-empty.
	Markers []string
}

// DefaultRetryPolicy returns 5 retries spaced 5 seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		Delay:      5 * time.Second,
	}
}

// RetryLimits bounds the retry policies remote callers may request. A zero
// field leaves that dimension unbounded.
type RetryLimits struct {
	// MaxRetries caps RetryPolicy.MaxRetries
	MaxRetries int
	// MinDelay is the shortest wait allowed when retries are requested
	MinDelay time.Duration
	// MaxDelay caps RetryPolicy.Delay
	MaxDelay time.Duration
}

// DefaultRetryLimits allows up to 10 retries spaced 1s to 30s apart.
func DefaultRetryLimits() RetryLimits {
	return RetryLimits{
		MaxRetries: 10,
		MinDelay:   time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Check returns a ConfigurationError when p falls outside the limits.
func (l RetryLimits) Check(p RetryPolicy) error {
	switch {
	case p.MaxRetries < 0:
		return NewError(ErrorTypeConfig, "max retries must not be negative", nil)
	case p.Delay < 0:
		return NewError(ErrorTypeConfig, "retry delay must not be negative", nil)
	case l.MaxRetries > 0 && p.MaxRetries > l.MaxRetries:
		return NewError(ErrorTypeConfig,
			fmt.Sprintf("max retries %d exceeds the limit of %d", p.MaxRetries, l.MaxRetries), nil)
	case l.MaxDelay > 0 && p.Delay > l.MaxDelay:
		return NewError(ErrorTypeConfig,
			fmt.Sprintf("retry delay %s exceeds the limit of %s", p.Delay, l.MaxDelay), nil)
	case p.MaxRetries > 0 && p.Delay < l.MinDelay:
		return NewError(ErrorTypeConfig,
			fmt.Sprintf("retry delay %s is below the minimum of %s", p.Delay, l.MinDelay), nil)
	}
	return nil
}

// ShouldRetry reports whether err is a server error whose message contains
// one of the policy's markers.
func (p RetryPolicy) ShouldRetry(err error) bool {
	var sdkErr *Error
	if !errors.As(err, &sdkErr) || sdkErr.Type != ErrorTypeServer {
		return false
	}
	markers := p.Markers
	if len(markers) == 0 {
		markers = TaskInProgressMarkers
	}
	for _, m := range markers {
		if strings.Contains(sdkErr.Message, m) {
			return true
		}
	}
	return false
}

// IsTaskInProgress reports whether err means the target resource is busy
// with another operation and the call may succeed later.
func IsTaskInProgress(err error) bool {
	return RetryPolicy{}.ShouldRetry(err)
}

// CallWithRetry calls action with the client's RetryPolicy.
//
// Only task-in-progress server errors are retried; any other error is
// returned at once without waiting. When retries run out the last error is
// returned with Attempts set to the number of calls made.
func (c *Client) CallWithRetry(ctx context.Context, action string, params map[string]interface{}) (*Response, error) {
	return c.CallWithRetryPolicy(ctx, c.retry, action, params, nil)
}

// CallWithRetryPolicy is CallWithRetry with an explicit policy and headers.
func (c *Client) CallWithRetryPolicy(ctx context.Context, policy RetryPolicy, action string, params map[string]interface{}, headers map[string]string) (*Response, error) {
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.Call(ctx, action, params, headers)
		if err == nil {
			return resp, nil
		}
		if !policy.ShouldRetry(err) {
			return nil, err
		}
		if attempt > maxRetries {
			c.log.WithField("action", action).Warn("Maximum number of retries reached")
			var sdkErr *Error
			if errors.As(err, &sdkErr) {
				sdkErr.Attempts = attempt
			}
			return nil, err
		}

		c.log.WithFields(logrus.Fields{
			"action":     action,
			"request_id": RequestIDOf(err),
		}).Infof("Task is being processed, retrying %d/%d", attempt, maxRetries)
		c.observer.OnRetryAttempt(c.name, action, attempt, policy.Delay, err)

		if werr := c.sleep(ctx, policy.Delay); werr != nil {
			return nil, NewError(ErrorTypeUnknown, "retry wait interrupted", werr).
				withCall(c.name, action).
				WithDetail("last_error", err.Error())
		}
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
