package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/qcloud-nest/internal/audit"
	"github.com/birbparty/qcloud-nest/internal/clients"
	"github.com/birbparty/qcloud-nest/internal/queue"
	"github.com/birbparty/qcloud-nest/sdk"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishResult(ctx context.Context, res *queue.ResultMessage) error {
	return m.Called(ctx, res).Error(0)
}

type mockDLQ struct {
	mock.Mock
}

func (m *mockDLQ) SendToDLQ(ctx context.Context, msg *nats.Msg, err error) error {
	return m.Called(ctx, msg, err).Error(0)
}

type recordingAudit struct {
	records []*audit.CallRecord
}

func (r *recordingAudit) Record(ctx context.Context, rec *audit.CallRecord) error {
	r.records = append(r.records, rec)
	return nil
}

// fakeCaller answers with a scripted sequence of results
type fakeCaller struct {
	service, version, region string
	calls                    int32
	retryCalls               int32
	policy                   sdk.RetryPolicy
	resp                     *sdk.Response
	err                      error
}

func (f *fakeCaller) Call(ctx context.Context, action string, params map[string]interface{}, headers map[string]string) (*sdk.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.resp, f.err
}

func (f *fakeCaller) CallWithRetryPolicy(ctx context.Context, policy sdk.RetryPolicy, action string, params map[string]interface{}, headers map[string]string) (*sdk.Response, error) {
	atomic.AddInt32(&f.retryCalls, 1)
	f.policy = policy
	return f.resp, f.err
}

func (f *fakeCaller) Service() string { return f.service }
func (f *fakeCaller) Version() string { return f.version }
func (f *fakeCaller) Region() string  { return f.region }

type fixture struct {
	processor *Processor
	caller    *fakeCaller
	results   *mockPublisher
	dlq       *mockDLQ
	audit     *recordingAudit
	metrics   *Metrics
}

func newFixture(t *testing.T, caller *fakeCaller) *fixture {
	t.Helper()
	pool := clients.NewPool(func(service, version, region string) (clients.Caller, error) {
		if service == "nonexistent" {
			return nil, sdk.NewError(sdk.ErrorTypeServiceNotFound, "service nonexistent not found", nil)
		}
		caller.service, caller.region = service, region
		if caller.version == "" {
			caller.version = "2017-03-12"
		}
		return caller, nil
	})

	f := &fixture{
		caller:  caller,
		results: &mockPublisher{},
		dlq:     &mockDLQ{},
		audit:   &recordingAudit{},
		metrics: NewMetrics(),
	}
	config := &Config{
		WorkerID:    "test",
		Concurrency: 2,
		MaxDeliver:  3,
		RetryPolicy: sdk.RetryPolicy{MaxRetries: 5, Delay: 5 * time.Second},
		RetryLimits: sdk.DefaultRetryLimits(),
	}
	f.processor = newProcessor(config, pool, f.results, f.dlq, f.audit, f.metrics)
	return f
}

func actionMsg(t *testing.T, mutate func(*queue.ActionMessage)) *nats.Msg {
	t.Helper()
	action := queue.NewActionMessage("cvm", "", "ap-guangzhou", "StartInstances", map[string]interface{}{"InstanceIds": []string{"ins-1"}})
	if mutate != nil {
		mutate(action)
	}
	data, err := action.Marshal()
	require.NoError(t, err)
	return &nats.Msg{Subject: queue.SubjectActions, Data: data}
}

func TestProcess_Success(t *testing.T) {
	f := newFixture(t, &fakeCaller{resp: &sdk.Response{RequestID: "req-1", Body: []byte(`{"RequestId":"req-1"}`)}})

	var published *queue.ResultMessage
	f.results.On("PublishResult", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		published = args.Get(1).(*queue.ResultMessage)
	}).Return(nil).Once()

	outcome := f.processor.Process(context.Background(), actionMsg(t, nil))

	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.Equal(t, int32(1), f.caller.calls)
	assert.Zero(t, f.caller.retryCalls)

	require.NotNil(t, published)
	assert.Equal(t, queue.StatusSucceeded, published.Status)
	assert.Equal(t, "req-1", published.RequestID)
	assert.Equal(t, "2017-03-12", published.Version)
	assert.JSONEq(t, `{"RequestId":"req-1"}`, string(published.Response))

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, audit.SourceWorker, f.audit.records[0].Source)
	assert.Equal(t, audit.StatusSuccess, f.audit.records[0].Status)

	f.dlq.AssertNotCalled(t, "SendToDLQ", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int64(1), f.metrics.GetStats()["messages_succeeded"])
}

func TestProcess_RetryPolicyFromMessage(t *testing.T) {
	f := newFixture(t, &fakeCaller{resp: &sdk.Response{RequestID: "req-2"}})
	f.results.On("PublishResult", mock.Anything, mock.Anything).Return(nil)

	msg := actionMsg(t, func(a *queue.ActionMessage) {
		a.Retry = true
		maxRetries := 2
		a.MaxRetries = &maxRetries
	})

	assert.Equal(t, OutcomeSucceeded, f.processor.Process(context.Background(), msg))
	assert.Equal(t, int32(1), f.caller.retryCalls)
	assert.Zero(t, f.caller.calls)
	assert.Equal(t, sdk.RetryPolicy{MaxRetries: 2, Delay: 5 * time.Second}, f.caller.policy)
}

func TestProcess_RetryOverrideBeyondLimits(t *testing.T) {
	f := newFixture(t, &fakeCaller{resp: &sdk.Response{RequestID: "req-l"}})
	f.dlq.On("SendToDLQ", mock.Anything, mock.Anything, mock.MatchedBy(func(err error) bool {
		return errors.Is(err, queue.ErrInvalidMessage)
	})).Return(nil).Once()

	msg := actionMsg(t, func(a *queue.ActionMessage) {
		a.Retry = true
		maxRetries := 1000000
		a.MaxRetries = &maxRetries
		a.RetryDelay = "0s"
	})

	assert.Equal(t, OutcomeDeadLettered, f.processor.Process(context.Background(), msg))
	assert.Zero(t, f.caller.calls)
	assert.Zero(t, f.caller.retryCalls)
	f.results.AssertNotCalled(t, "PublishResult", mock.Anything, mock.Anything)
	f.dlq.AssertExpectations(t)
}

func TestProcess_ServerErrorIsTerminal(t *testing.T) {
	callErr := sdk.NewServerError("ResourceInUse", "task is working", "req-3")
	callErr.Attempts = 3
	f := newFixture(t, &fakeCaller{err: callErr})

	var published *queue.ResultMessage
	f.results.On("PublishResult", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		published = args.Get(1).(*queue.ResultMessage)
	}).Return(nil)
	f.dlq.On("SendToDLQ", mock.Anything, mock.Anything, error(callErr)).Return(nil).Once()

	outcome := f.processor.Process(context.Background(), actionMsg(t, nil))

	assert.Equal(t, OutcomeDeadLettered, outcome)
	require.NotNil(t, published)
	assert.Equal(t, queue.StatusFailed, published.Status)
	assert.Equal(t, "ResourceInUse", published.Error.Code)
	assert.Equal(t, "req-3", published.RequestID)
	assert.Equal(t, 3, published.Attempts)

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, audit.StatusFailed, f.audit.records[0].Status)
	assert.Equal(t, 3, f.audit.records[0].Attempts)
	f.dlq.AssertExpectations(t)
}

func TestProcess_LocalFailureIsRedelivered(t *testing.T) {
	f := newFixture(t, &fakeCaller{err: sdk.WrapError(errors.New("connection reset"), "call failed")})

	outcome := f.processor.Process(context.Background(), actionMsg(t, nil))

	assert.Equal(t, OutcomeRedelivered, outcome)
	f.results.AssertNotCalled(t, "PublishResult", mock.Anything, mock.Anything)
	f.dlq.AssertNotCalled(t, "SendToDLQ", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.audit.records)
	assert.Equal(t, int64(1), f.metrics.GetStats()["messages_redelivered"])
}

func TestProcess_LocalFailureOnLastDelivery(t *testing.T) {
	f := newFixture(t, &fakeCaller{err: sdk.WrapError(errors.New("connection reset"), "call failed")})
	f.processor.config.MaxDeliver = 1
	f.results.On("PublishResult", mock.Anything, mock.Anything).Return(nil).Once()
	f.dlq.On("SendToDLQ", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	assert.Equal(t, OutcomeDeadLettered, f.processor.Process(context.Background(), actionMsg(t, nil)))
	f.results.AssertExpectations(t)
	f.dlq.AssertExpectations(t)
}

func TestProcess_InvalidMessage(t *testing.T) {
	f := newFixture(t, &fakeCaller{})
	f.dlq.On("SendToDLQ", mock.Anything, mock.Anything, mock.MatchedBy(func(err error) bool {
		return errors.Is(err, queue.ErrInvalidMessage)
	})).Return(nil).Twice()

	assert.Equal(t, OutcomeDeadLettered, f.processor.Process(context.Background(), &nats.Msg{Subject: queue.SubjectActions, Data: []byte("{")}))
	assert.Equal(t, OutcomeDeadLettered, f.processor.Process(context.Background(), actionMsg(t, func(a *queue.ActionMessage) { a.Action = "" })))

	assert.Zero(t, f.caller.calls)
	f.results.AssertNotCalled(t, "PublishResult", mock.Anything, mock.Anything)
	f.dlq.AssertExpectations(t)
	assert.Equal(t, map[string]int64{"invalid_message": 2}, f.metrics.GetStats()["error_counts"])
}

func TestProcess_UnknownService(t *testing.T) {
	f := newFixture(t, &fakeCaller{})
	var published *queue.ResultMessage
	f.results.On("PublishResult", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		published = args.Get(1).(*queue.ResultMessage)
	}).Return(nil)
	f.dlq.On("SendToDLQ", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats down"))

	msg := actionMsg(t, func(a *queue.ActionMessage) { a.Service = "nonexistent" })
	assert.Equal(t, OutcomeFailed, f.processor.Process(context.Background(), msg))

	require.NotNil(t, published)
	assert.Equal(t, "service_not_found", published.Error.Type)
	assert.Zero(t, f.caller.calls)
}

func TestDeliveriesExhausted(t *testing.T) {
	msg := &nats.Msg{Subject: queue.SubjectActions}
	assert.False(t, deliveriesExhausted(msg, 0))
	assert.False(t, deliveriesExhausted(msg, 3))
	assert.True(t, deliveriesExhausted(msg, 1))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "succeeded", OutcomeSucceeded.String())
	assert.Equal(t, "dead_lettered", OutcomeDeadLettered.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("WORKER_ID", "w-1")
	t.Setenv("WORKER_CONCURRENCY", "4")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "w-1", cfg.WorkerID)
	assert.Equal(t, "qcloud-worker-w-1", cfg.WorkerName)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.HandleTimeout)
	assert.Equal(t, sdk.DefaultRetryPolicy(), cfg.RetryPolicy)

	t.Setenv("WORKER_CONCURRENCY", "0")
	_, err = NewConfigFromEnv()
	assert.Error(t, err)
}

func TestShutdownMarksUnhealthy(t *testing.T) {
	f := newFixture(t, &fakeCaller{})
	require.True(t, f.metrics.IsHealthy())

	require.NoError(t, f.processor.shutdown())
	assert.False(t, f.metrics.IsHealthy())
	assert.Equal(t, false, f.metrics.GetStats()["is_healthy"])
}
