package sdk

import (
	"sync"
	"time"
)

// Observer provides hooks for monitoring API calls.
// Observer methods run on the calling goroutine and should return quickly.
//
// Example implementation:
//
//	type LogObserver struct {
//	    logger *log.Logger
//	}
//
//	func (o *LogObserver) OnCallStart(service, action string) {}
//
//	func (o *LogObserver) OnCallEnd(service, action string, d time.Duration, err error) {
//	    o.logger.Printf("%s.%s took %v err=%v", service, action, d, err)
//	}
//
//	func (o *LogObserver) OnRetryAttempt(service, action string, attempt int, delay time.Duration, err error) {
//	    o.logger.Printf("%s.%s retry %d in %v: %v", service, action, attempt, delay, err)
//	}
type Observer interface {
	// OnCallStart is called before an action is sent.
	OnCallStart(service, action string)

	// OnCallEnd is called when an action completes. err is nil on success.
	OnCallEnd(service, action string, duration time.Duration, err error)

	// OnRetryAttempt is called before the retry loop waits for delay.
	// attempt counts retries starting at 1.
	OnRetryAttempt(service, action string, attempt int, delay time.Duration, err error)
}

// NoopObserver is the default Observer. It does nothing.
type NoopObserver struct{}

// OnCallStart does nothing
func (n *NoopObserver) OnCallStart(service, action string) {}

// OnCallEnd does nothing
func (n *NoopObserver) OnCallEnd(service, action string, duration time.Duration, err error) {}

// OnRetryAttempt does nothing
func (n *NoopObserver) OnRetryAttempt(service, action string, attempt int, delay time.Duration, err error) {
}

// MetricsCollector is an in-memory Observer that counts calls, errors and
// retries per "service.action" key. It is intended for tests and debugging.
//
// Example:
//
//	metrics := sdk.NewMetricsCollector()
//	cfg := sdk.DefaultClientConfig().WithObserver(metrics)
//	// ... make calls ...
//	snapshot := metrics.GetMetrics()
//	fmt.Println(snapshot["retries"])
type MetricsCollector struct {
	mu         sync.RWMutex
	calls      map[string]int64
	latencies  map[string][]time.Duration
	errors     map[string]int64
	errorTypes map[string]int64
	retries    map[string]int64
}

// NewMetricsCollector creates a new metrics collector. It is safe for concurrent use.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		calls:      make(map[string]int64),
		latencies:  make(map[string][]time.Duration),
		errors:     make(map[string]int64),
		errorTypes: make(map[string]int64),
		retries:    make(map[string]int64),
	}
}

func metricsKey(service, action string) string {
	return service + "." + action
}

// OnCallStart increments the call count
func (m *MetricsCollector) OnCallStart(service, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[metricsKey(service, action)]++
}

// OnCallEnd records duration and errors
func (m *MetricsCollector) OnCallEnd(service, action string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricsKey(service, action)
	m.latencies[key] = append(m.latencies[key], duration)
	if err != nil {
		m.errors[key]++
		m.errorTypes[TypeOf(err).String()]++
	}
}

// OnRetryAttempt increments the retry count
func (m *MetricsCollector) OnRetryAttempt(service, action string, attempt int, delay time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[metricsKey(service, action)]++
}

// Calls returns the number of calls made for service.action.
func (m *MetricsCollector) Calls(service, action string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[metricsKey(service, action)]
}

// Retries returns the number of retries made for service.action.
func (m *MetricsCollector) Retries(service, action string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retries[metricsKey(service, action)]
}

// GetMetrics returns a copy of the collected metrics:
//   - "calls", "errors", "retries": map of service.action to count
//   - "latencies": map of service.action to recorded durations
//   - "error_types": map of ErrorType name to count
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latencies := make(map[string][]time.Duration, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = append([]time.Duration(nil), v...)
	}

	return map[string]interface{}{
		"calls":       copyCounts(m.calls),
		"latencies":   latencies,
		"errors":      copyCounts(m.errors),
		"error_types": copyCounts(m.errorTypes),
		"retries":     copyCounts(m.retries),
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// CompositeObserver fans notifications out to several observers in order.
// A panicking observer does not prevent the others from being called.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an observer that delegates to observers.
func NewCompositeObserver(observers ...Observer) Observer {
	return &CompositeObserver{observers: observers}
}

func (c *CompositeObserver) each(fn func(Observer)) {
	for _, obs := range c.observers {
		func() {
			defer func() { _ = recover() }()
			fn(obs)
		}()
	}
}

// OnCallStart notifies all observers
func (c *CompositeObserver) OnCallStart(service, action string) {
	c.each(func(o Observer) { o.OnCallStart(service, action) })
}

// OnCallEnd notifies all observers
func (c *CompositeObserver) OnCallEnd(service, action string, duration time.Duration, err error) {
	c.each(func(o Observer) { o.OnCallEnd(service, action, duration, err) })
}

// OnRetryAttempt notifies all observers
func (c *CompositeObserver) OnRetryAttempt(service, action string, attempt int, delay time.Duration, err error) {
	c.each(func(o Observer) { o.OnRetryAttempt(service, action, attempt, delay, err) })
}
