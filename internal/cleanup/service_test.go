package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPruner struct {
	mock.Mock
}

func (m *mockPruner) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(p Pruner, pub Publisher, cfg Config) *Service {
	s := NewService(p, pub, cfg)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	cutoff := fixedNow.Add(-7 * 24 * time.Hour)

	t.Run("prunes and notifies", func(t *testing.T) {
		pruner := &mockPruner{}
		pruner.On("Prune", ctx, cutoff).Return(int64(12), nil).Once()

		pub := &mockPublisher{}
		pub.On("Publish", Subject, mock.Anything).Return(nil).Once()

		s := newTestService(pruner, pub, Config{Retention: 7 * 24 * time.Hour})
		assert.Equal(t, int64(12), s.RunOnce(ctx))
		pruner.AssertExpectations(t)
		pub.AssertExpectations(t)

		var n Notification
		require.NoError(t, json.Unmarshal(pub.Calls[0].Arguments.Get(1).([]byte), &n))
		assert.Equal(t, int64(12), n.Removed)
		assert.True(t, n.Cutoff.Equal(cutoff))
	})

	t.Run("nothing removed sends nothing", func(t *testing.T) {
		pruner := &mockPruner{}
		pruner.On("Prune", ctx, cutoff).Return(int64(0), nil)
		pub := &mockPublisher{}

		s := newTestService(pruner, pub, Config{Retention: 7 * 24 * time.Hour})
		assert.Equal(t, int64(0), s.RunOnce(ctx))
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("prune failure", func(t *testing.T) {
		pruner := &mockPruner{}
		pruner.On("Prune", ctx, cutoff).Return(int64(0), errors.New("connection refused"))

		s := newTestService(pruner, nil, Config{Retention: 7 * 24 * time.Hour})
		assert.Equal(t, int64(0), s.RunOnce(ctx))
	})

	t.Run("dry run never prunes", func(t *testing.T) {
		pruner := &mockPruner{}
		s := newTestService(pruner, nil, Config{DryRun: true})
		assert.Equal(t, int64(0), s.RunOnce(ctx))
		pruner.AssertNotCalled(t, "Prune", mock.Anything, mock.Anything)
	})
}

func TestStart_StopsWithContext(t *testing.T) {
	pruner := &mockPruner{}
	pruner.On("Prune", mock.Anything, mock.Anything).Return(int64(0), nil)

	s := newTestService(pruner, nil, Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retention service did not stop")
	}
	pruner.AssertCalled(t, "Prune", mock.Anything, mock.Anything)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("AUDIT_RETENTION", "72h")
	t.Setenv("AUDIT_PRUNE_INTERVAL", "bogus")
	t.Setenv("AUDIT_PRUNE_DRY_RUN", "true")

	cfg := LoadConfig()
	assert.Equal(t, 72*time.Hour, cfg.Retention)
	assert.Equal(t, time.Hour, cfg.Interval)
	assert.True(t, cfg.DryRun)

	s := NewService(&mockPruner{}, nil, Config{})
	assert.Equal(t, 30*24*time.Hour, s.config.Retention)
}
