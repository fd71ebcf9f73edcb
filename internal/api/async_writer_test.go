package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/qcloud-nest/internal/audit"
)

// MockRecorder is a mock implementation of audit.Recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, rec *audit.CallRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func testRecord(action string) *audit.CallRecord {
	return &audit.CallRecord{Service: "cvm", Region: "ap-guangzhou", Action: action, Status: audit.StatusSuccess}
}

func TestAsyncWriter_Record(t *testing.T) {
	recorder := &MockRecorder{}
	rec := testRecord("DescribeInstances")
	recorder.On("Record", mock.Anything, rec).Return(nil).Once()

	writer := NewAsyncWriter(recorder, 10, 2)
	require.NoError(t, writer.Record(context.Background(), rec))
	writer.Shutdown()

	recorder.AssertExpectations(t)
}

func TestAsyncWriter_RecordIgnoresCallerCancel(t *testing.T) {
	recorder := &MockRecorder{}
	recorder.On("Record", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(nil).Once()

	writer := NewAsyncWriter(recorder, 10, 1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, writer.Record(ctx, testRecord("StartInstances")))
	cancel()
	writer.Shutdown()

	recorder.AssertExpectations(t)
}

func TestAsyncWriter_QueueFull(t *testing.T) {
	recorder := &MockRecorder{}
	release := make(chan struct{})
	recorder.On("Record", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		<-release
	}).Return(nil)

	writer := NewAsyncWriter(recorder, 1, 1)

	// first record occupies the worker, second fills the queue
	require.NoError(t, writer.Record(context.Background(), testRecord("A")))
	require.Eventually(t, func() bool { return writer.QueueDepth() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, writer.Record(context.Background(), testRecord("B")))

	// dropped without blocking
	done := make(chan struct{})
	go func() {
		_ = writer.Record(context.Background(), testRecord("C"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	assert.Equal(t, 1, writer.QueueDepth())
	close(release)
	writer.Shutdown()
	recorder.AssertNumberOfCalls(t, "Record", 2)
}

// flakyRecorder fails until the given attempt
type flakyRecorder struct {
	attempts  int32
	succeedAt int32
}

func (f *flakyRecorder) Record(ctx context.Context, rec *audit.CallRecord) error {
	if atomic.AddInt32(&f.attempts, 1) < f.succeedAt {
		return errors.New("connection reset")
	}
	return nil
}

func TestAsyncWriter_Retry(t *testing.T) {
	recorder := &flakyRecorder{succeedAt: 3}

	writer := NewAsyncWriter(recorder, 10, 1)
	writer.retryDelay = time.Millisecond
	require.NoError(t, writer.Record(context.Background(), testRecord("RebootInstances")))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&recorder.attempts) == 3 }, 2*time.Second, 5*time.Millisecond)
	writer.Shutdown()
	assert.Equal(t, int32(3), atomic.LoadInt32(&recorder.attempts))
}

func TestAsyncWriter_MaxRetries(t *testing.T) {
	recorder := &MockRecorder{}
	var attempts int32
	recorder.On("Record", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		atomic.AddInt32(&attempts, 1)
	}).Return(errors.New("database down"))

	writer := NewAsyncWriter(recorder, 10, 1)
	writer.retryDelay = time.Millisecond
	require.NoError(t, writer.Record(context.Background(), testRecord("StopInstances")))

	// initial write plus maxRetry requeues
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) == 4 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(4), atomic.LoadInt32(&attempts))
	writer.Shutdown()
}

func TestAsyncWriter_Stats(t *testing.T) {
	writer := NewAsyncWriter(&MockRecorder{}, 50, 3)
	defer writer.Shutdown()

	stats := writer.Stats()
	assert.Equal(t, 0, stats.QueueDepth)
	assert.Equal(t, 50, stats.QueueCapacity)
	assert.Equal(t, 3, stats.WorkerCount)
}

func TestAsyncWriter_RecordAfterShutdown(t *testing.T) {
	recorder := &MockRecorder{}
	writer := NewAsyncWriter(recorder, 10, 1)
	writer.Shutdown()
	writer.Shutdown()

	assert.NotPanics(t, func() {
		assert.NoError(t, writer.Record(context.Background(), testRecord("DescribeRegions")))
	})
	recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}
