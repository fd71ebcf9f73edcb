package telemetry

import (
	"time"

	"github.com/birbparty/qcloud-nest/sdk"
	"github.com/sirupsen/logrus"
)

// Observer feeds sdk client events into Prometheus and the structured log
type Observer struct {
	log logrus.FieldLogger
}

var _ sdk.Observer = (*Observer)(nil)

// NewObserver creates an Observer; a nil logger uses the global one
func NewObserver(log logrus.FieldLogger) *Observer {
	if log == nil {
		log = L()
	}
	return &Observer{log: log}
}

func (o *Observer) OnCallStart(service, action string) {}

func (o *Observer) OnCallEnd(service, action string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = sdk.TypeOf(err).String()
		o.log.WithFields(logrus.Fields{
			"service":    service,
			"action":     action,
			"request_id": sdk.RequestIDOf(err),
			"duration":   duration.Milliseconds(),
		}).WithError(err).Warn("Cloud API call failed")
	}
	RecordAPICall(service, action, status, duration)
}

func (o *Observer) OnRetryAttempt(service, action string, attempt int, delay time.Duration, err error) {
	RecordAPIRetry(service, action)
}
