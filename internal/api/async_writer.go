package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/birbparty/qcloud-nest/internal/audit"
	"github.com/birbparty/qcloud-nest/internal/telemetry"
)

// writeRequest is one queued audit record
type writeRequest struct {
	ctx     context.Context // Traced context for span propagation
	record  *audit.CallRecord
	retries int
}

// AsyncWriterStats provides statistics about the async writer
type AsyncWriterStats struct {
	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity"`
	WorkerCount   int `json:"worker_count"`
}

// AsyncWriter records audit entries in the background so responses never
// wait on PostgreSQL. It implements audit.Recorder.
type AsyncWriter struct {
	recorder   audit.Recorder
	queue      chan writeRequest
	workers    int
	maxRetry   int
	retryDelay time.Duration
	log        logrus.FieldLogger
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewAsyncWriter creates a new async writer with worker pool
func NewAsyncWriter(recorder audit.Recorder, queueSize, workers int) *AsyncWriter {
	aw := &AsyncWriter{
		recorder:   recorder,
		queue:      make(chan writeRequest, queueSize),
		workers:    workers,
		maxRetry:   3,
		retryDelay: time.Second,
		log:        telemetry.L().WithField("component", "audit-writer"),
	}

	// Start worker goroutines
	for i := 0; i < workers; i++ {
		aw.wg.Add(1)
		go aw.worker(i)
	}

	return aw
}

// Record queues rec; it never blocks and drops the record when the queue is full
func (aw *AsyncWriter) Record(ctx context.Context, rec *audit.CallRecord) error {
	if aw.enqueue(writeRequest{ctx: context.WithoutCancel(ctx), record: rec}) {
		auditQueueDepth.Set(float64(len(aw.queue)))
	} else {
		aw.log.WithFields(logrus.Fields{
			"service": rec.Service,
			"action":  rec.Action,
		}).Warn("Audit queue unavailable, dropping record")
		auditWriteErrors.WithLabelValues("queue_full").Inc()
	}
	return nil
}

// worker processes write requests from the queue
func (aw *AsyncWriter) worker(id int) {
	defer aw.wg.Done()

	for req := range aw.queue {
		ctx, span := telemetry.StartSpan(req.ctx, "audit.async_write",
			trace.WithAttributes(
				attribute.String("db.system", "postgresql"),
				attribute.String("qcloud.service", req.record.Service),
				attribute.String("qcloud.action", req.record.Action),
			),
		)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := aw.recorder.Record(ctx, req.record)
		cancel()

		if err != nil {
			span.RecordError(err)
		}
		span.End()

		if err != nil {
			log := aw.log.WithError(err).WithFields(logrus.Fields{"worker": id, "action": req.record.Action})
			if req.retries < aw.maxRetry {
				req.retries++
				time.Sleep(time.Duration(req.retries) * aw.retryDelay)
				if !aw.enqueue(req) {
					log.Warn("Failed to requeue audit record")
					auditWriteErrors.WithLabelValues("requeue_failed").Inc()
				}
			} else {
				log.Error("Max retries exceeded for audit record")
				auditWriteErrors.WithLabelValues("max_retries_exceeded").Inc()
			}
		}

		auditQueueDepth.Set(float64(len(aw.queue)))
	}
}

// enqueue adds req unless the queue is full or closed
func (aw *AsyncWriter) enqueue(req writeRequest) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case aw.queue <- req:
		return true
	default:
		return false
	}
}

// QueueDepth returns the current queue depth
func (aw *AsyncWriter) QueueDepth() int {
	return len(aw.queue)
}

// Stats returns current statistics
func (aw *AsyncWriter) Stats() AsyncWriterStats {
	return AsyncWriterStats{
		QueueDepth:    len(aw.queue),
		QueueCapacity: cap(aw.queue),
		WorkerCount:   aw.workers,
	}
}

// Shutdown stops accepting records and waits for queued ones
func (aw *AsyncWriter) Shutdown() {
	aw.closeOnce.Do(func() { close(aw.queue) })
	aw.wg.Wait()
}
