package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/qcloud-nest/internal/queue"
)

type stubChecker struct{ err error }

func (s stubChecker) Health() error { return s.err }

type mockInspector struct {
	mock.Mock
}

func (m *mockInspector) GetDLQStats() (*queue.DLQStats, error) {
	args := m.Called()
	stats, _ := args.Get(0).(*queue.DLQStats)
	return stats, args.Error(1)
}

func (m *mockInspector) PurgeDLQ(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func request(t *testing.T, app *fiber.App, method, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	if len(body) > 0 && body[0] == '{' {
		require.NoError(t, json.Unmarshal(body, &out))
	}
	return resp.StatusCode, out
}

func TestHealthApp_Health(t *testing.T) {
	metrics := NewMetrics()
	app := NewHealthApp("qcloud-nest-worker", metrics, stubChecker{}, &mockInspector{})

	code, body := request(t, app, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	metrics.SetHealthy(false)
	code, body = request(t, app, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	metrics.SetHealthy(true)
	app = NewHealthApp("qcloud-nest-worker", metrics, stubChecker{err: errors.New("not connected")}, &mockInspector{})
	code, _ = request(t, app, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestHealthApp_Stats(t *testing.T) {
	dlq := &mockInspector{}
	dlq.On("GetDLQStats").Return(&queue.DLQStats{TotalMessages: 4, StreamBytes: 512}, nil).Once()
	dlq.On("GetDLQStats").Return(nil, errors.New("stream not found")).Once()
	app := NewHealthApp("qcloud-nest-worker", NewMetrics(), stubChecker{}, dlq)

	code, body := request(t, app, http.MethodGet, "/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["is_healthy"])
	require.Contains(t, body, "dlq")
	assert.Equal(t, float64(4), body["dlq"].(map[string]interface{})["total_messages"])

	code, body = request(t, app, http.MethodGet, "/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stream not found", body["dlq_error"])
	assert.NotContains(t, body, "dlq")
	dlq.AssertExpectations(t)
}

func TestHealthApp_PurgeDLQ(t *testing.T) {
	dlq := &mockInspector{}
	dlq.On("GetDLQStats").Return(&queue.DLQStats{TotalMessages: 7}, nil)
	dlq.On("PurgeDLQ", mock.Anything).Return(nil).Once()
	dlq.On("PurgeDLQ", mock.Anything).Return(errors.New("jetstream unavailable")).Once()
	app := NewHealthApp("qcloud-nest-worker", NewMetrics(), stubChecker{}, dlq)

	code, body := request(t, app, http.MethodDelete, "/dlq")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(7), body["purged"])

	code, body = request(t, app, http.MethodDelete, "/dlq")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "jetstream unavailable", body["error"])
	dlq.AssertExpectations(t)
}
