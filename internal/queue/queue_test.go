package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/qcloud-nest/sdk"
)

func intPtr(i int) *int { return &i }

func TestActionMessage(t *testing.T) {
	msg := NewActionMessage("cvm", "", "ap-guangzhou", "StartInstances", map[string]interface{}{"InstanceIds": []string{"ins-1"}})
	assert.Len(t, msg.ID, 36)
	assert.NoError(t, msg.Validate())

	data, err := msg.Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalActionMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, "StartInstances", decoded.Action)

	other := NewActionMessage("cvm", "", "ap-guangzhou", "StartInstances", nil)
	assert.NotEqual(t, msg.ID, other.ID)
}

func TestActionMessage_Validate(t *testing.T) {
	tests := []struct {
		name string
		msg  ActionMessage
		want string
	}{
		{"missing fields", ActionMessage{ID: "x"}, "missing service, region, action"},
		{"negative retries", ActionMessage{ID: "x", Service: "cvm", Region: "r", Action: "A", MaxRetries: intPtr(-1)}, "max_retries"},
		{"bad delay", ActionMessage{ID: "x", Service: "cvm", Region: "r", Action: "A", RetryDelay: "soon"}, "retry_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidMessage))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := UnmarshalActionMessage([]byte("{"))
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestActionMessage_RetryPolicy(t *testing.T) {
	base := sdk.DefaultRetryPolicy()

	msg := &ActionMessage{}
	assert.Equal(t, base, msg.RetryPolicy(base))

	msg = &ActionMessage{MaxRetries: intPtr(2), RetryDelay: "250ms"}
	policy := msg.RetryPolicy(base)
	assert.Equal(t, 2, policy.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, policy.Delay)
	assert.Equal(t, 5, base.MaxRetries)
}

func TestActionMessage_CheckRetryLimits(t *testing.T) {
	base := sdk.DefaultRetryPolicy()
	limits := sdk.DefaultRetryLimits()

	tests := []struct {
		name string
		msg  ActionMessage
		ok   bool
	}{
		{"no retry", ActionMessage{MaxRetries: intPtr(1000000), RetryDelay: "0s"}, true},
		{"base policy", ActionMessage{Retry: true}, true},
		{"within limits", ActionMessage{Retry: true, MaxRetries: intPtr(10), RetryDelay: "2s"}, true},
		{"too many retries", ActionMessage{Retry: true, MaxRetries: intPtr(1000000), RetryDelay: "0s"}, false},
		{"zero delay", ActionMessage{Retry: true, MaxRetries: intPtr(2), RetryDelay: "0s"}, false},
		{"delay too long", ActionMessage{Retry: true, RetryDelay: "10m"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.CheckRetryLimits(base, limits)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidMessage))
		})
	}
}

func TestNewResultError(t *testing.T) {
	re := NewResultError(sdk.NewServerError("ResourceInUse", "task is working", "req-1"))
	assert.Equal(t, &ResultError{Type: "server", Code: "ResourceInUse", Message: "task is working", RequestID: "req-1"}, re)

	re = NewResultError(errors.New("boom"))
	assert.Equal(t, "unknown", re.Type)
	assert.Equal(t, "boom", re.Message)
}

func TestNewDLQMessage(t *testing.T) {
	original := &nats.Msg{Subject: SubjectActions, Data: []byte(`{"id":"1"}`)}

	dlq := NewDLQMessage(original, sdk.NewServerError("InvalidParameter", "bad", "r"))
	assert.Equal(t, SubjectActions, dlq.OriginalSubject)
	assert.Equal(t, "server", dlq.ErrorType)
	assert.JSONEq(t, `{"id":"1"}`, string(dlq.OriginalMessage))
	assert.Zero(t, dlq.Deliveries)

	dlq = NewDLQMessage(original, ErrInvalidMessage)
	assert.Equal(t, "invalid_message", dlq.ErrorType)

	data, err := dlq.Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalDLQMessage(data)
	require.NoError(t, err)
	assert.Equal(t, dlq.Error, decoded.Error)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrInvalidMessage))
	assert.False(t, IsRetryable(sdk.NewServerError("ResourceInUse", "task is working", "r")))
	assert.False(t, IsRetryable(sdk.NewError(sdk.ErrorTypeAuthentication, "no credentials", nil)))
	assert.False(t, IsRetryable(sdk.NewClientError("ClientError.InvalidParameter", "bad", nil)))
	assert.True(t, IsRetryable(sdk.NewClientError("ClientError.NetworkError", "dial", nil)))
	assert.True(t, IsRetryable(sdk.WrapError(errors.New("tls"), "call failed")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
}

func TestResultSubject(t *testing.T) {
	assert.Equal(t, "qcloud.results.abc", ResultSubject("abc"))
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("NATS_URL", "nats://queue:4222")
	t.Setenv("NATS_CONSUMER_ACK_WAIT", "5m")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "nats://queue:4222", cfg.URL)
	assert.Equal(t, "QCLOUD_ACTIONS", cfg.StreamName)
	assert.Equal(t, "QCLOUD_ACTIONS_DLQ", cfg.DLQStreamName)
	assert.Equal(t, 5*time.Minute, cfg.ConsumerAckWait)

	t.Setenv("WORKER_BATCH_SIZE", "many")
	_, err = NewConfigFromEnv()
	assert.ErrorContains(t, err, "WORKER_BATCH_SIZE")
}

func TestFetchLoop(t *testing.T) {
	t.Run("backs off on fetch errors", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var calls []time.Time
		fetch := func() ([]*nats.Msg, error) {
			calls = append(calls, time.Now())
			if len(calls) == 4 {
				cancel()
			}
			return nil, errors.New("consumer deleted")
		}

		done := make(chan struct{})
		go func() {
			fetchLoop(ctx, fetch, func(*nats.Msg) {}, logrus.New(), 20*time.Millisecond, 40*time.Millisecond)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("fetch loop did not stop")
		}

		require.Len(t, calls, 4)
		assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 20*time.Millisecond)
		assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 40*time.Millisecond)
		assert.GreaterOrEqual(t, calls[3].Sub(calls[2]), 40*time.Millisecond)
	})

	t.Run("delivers batches and stops on closed connection", func(t *testing.T) {
		batches := [][]*nats.Msg{{{Subject: "a"}, {Subject: "b"}}}
		fetch := func() ([]*nats.Msg, error) {
			if len(batches) == 0 {
				return nil, nats.ErrConnectionClosed
			}
			batch := batches[0]
			batches = batches[1:]
			return batch, nil
		}

		var subjects []string
		fetchLoop(context.Background(), fetch, func(m *nats.Msg) { subjects = append(subjects, m.Subject) },
			logrus.New(), time.Hour, time.Hour)
		assert.Equal(t, []string{"a", "b"}, subjects)
	})

	t.Run("timeouts are retried at once", func(t *testing.T) {
		n := 0
		fetch := func() ([]*nats.Msg, error) {
			n++
			if n < 3 {
				return nil, nats.ErrTimeout
			}
			return nil, nats.ErrBadSubscription
		}

		start := time.Now()
		fetchLoop(context.Background(), fetch, func(*nats.Msg) {}, logrus.New(), time.Hour, time.Hour)
		assert.Equal(t, 3, n)
		assert.Less(t, time.Since(start), time.Second)
	})
}
