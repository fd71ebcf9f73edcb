package worker

import (
	"sync"
	"time"
)

// Metrics holds worker metrics
type Metrics struct {
	mu sync.RWMutex

	// Message processing metrics
	messagesProcessed int64
	messagesSucceeded int64
	messagesFailed    int64
	redelivered       int64
	deadLettered      int64

	// Error metrics
	errorCounts map[string]int64

	// Performance metrics
	totalProcessingTime time.Duration

	// Worker status
	startTime       time.Time
	lastProcessedAt time.Time
	isHealthy       bool
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		errorCounts: make(map[string]int64),
		startTime:   time.Now(),
		isHealthy:   true,
	}
}

// RecordOutcome records one handled message
func (m *Metrics) RecordOutcome(outcome Outcome, errorType string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messagesProcessed++
	m.totalProcessingTime += duration
	m.lastProcessedAt = time.Now()

	switch outcome {
	case OutcomeSucceeded:
		m.messagesSucceeded++
	case OutcomeRedelivered:
		m.redelivered++
	default:
		m.messagesFailed++
	}
	if outcome == OutcomeDeadLettered {
		m.deadLettered++
	}
	if errorType != "" {
		m.errorCounts[errorType]++
	}
}

// GetStats returns current metrics
func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	timeSinceLastProcessed := time.Duration(0)
	if !m.lastProcessedAt.IsZero() {
		timeSinceLastProcessed = time.Since(m.lastProcessedAt)
	}

	avgProcessingTime := float64(0)
	if m.messagesProcessed > 0 {
		avgProcessingTime = float64(m.totalProcessingTime.Milliseconds()) / float64(m.messagesProcessed)
	}

	errorCounts := make(map[string]int64, len(m.errorCounts))
	for k, v := range m.errorCounts {
		errorCounts[k] = v
	}

	return map[string]interface{}{
		"uptime_seconds":         uptime.Seconds(),
		"messages_processed":     m.messagesProcessed,
		"messages_succeeded":     m.messagesSucceeded,
		"messages_failed":        m.messagesFailed,
		"messages_redelivered":   m.redelivered,
		"messages_dead_lettered": m.deadLettered,
		"avg_processing_time_ms": avgProcessingTime,
		"error_counts":           errorCounts,
		"last_processed_ago_ms":  timeSinceLastProcessed.Milliseconds(),
		"is_healthy":             m.isHealthy,
	}
}

// SetHealthy sets the health status
func (m *Metrics) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isHealthy = healthy
}

// IsHealthy returns the health status
func (m *Metrics) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isHealthy
}
