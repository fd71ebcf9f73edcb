package sdk

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopObserver(t *testing.T) {
	var obs Observer = &NoopObserver{}
	assert.NotPanics(t, func() {
		obs.OnCallStart("cvm", "DescribeInstances")
		obs.OnCallEnd("cvm", "DescribeInstances", time.Millisecond, nil)
		obs.OnRetryAttempt("cvm", "DescribeInstances", 1, time.Second, errors.New("x"))
	})
}

func TestMetricsCollector_Concurrent(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.OnCallStart("cvm", "StartInstances")
			var err error
			if i%2 == 0 {
				err = NewServerError("ResourceInUse", "task is working", "r")
				m.OnRetryAttempt("cvm", "StartInstances", 1, time.Second, err)
			}
			m.OnCallEnd("cvm", "StartInstances", time.Millisecond, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.Calls("cvm", "StartInstances"))
	assert.Equal(t, int64(25), m.Retries("cvm", "StartInstances"))

	snapshot := m.GetMetrics()
	assert.Equal(t, int64(25), snapshot["errors"].(map[string]int64)["cvm.StartInstances"])
	assert.Equal(t, int64(25), snapshot["error_types"].(map[string]int64)["server"])
}

type panickingObserver struct{ NoopObserver }

func (p *panickingObserver) OnCallStart(service, action string) { panic("boom") }

func TestCompositeObserver(t *testing.T) {
	first := NewMetricsCollector()
	second := NewMetricsCollector()
	obs := NewCompositeObserver(first, &panickingObserver{}, second)

	assert.NotPanics(t, func() {
		obs.OnCallStart("vpc", "DescribeVpcs")
		obs.OnCallEnd("vpc", "DescribeVpcs", time.Millisecond, nil)
		obs.OnRetryAttempt("vpc", "DescribeVpcs", 1, time.Second, nil)
	})

	assert.Equal(t, int64(1), first.Calls("vpc", "DescribeVpcs"))
	assert.Equal(t, int64(1), second.Calls("vpc", "DescribeVpcs"))
	assert.Equal(t, int64(1), second.Retries("vpc", "DescribeVpcs"))
}
