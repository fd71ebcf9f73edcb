package audit

import (
	"context"
	"time"

	"github.com/birbparty/qcloud-nest/sdk"
)

// Call status values
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Sources of a call
const (
	SourceAPI    = "api"
	SourceWorker = "worker"
	SourceCLI    = "cli"
)

// CallRecord is one executed cloud API call
type CallRecord struct {
	ID         int64     `db:"id" json:"id"`
	Service    string    `db:"service" json:"service"`
	Version    string    `db:"version" json:"version"`
	Region     string    `db:"region" json:"region"`
	Action     string    `db:"action" json:"action"`
	RequestID  string    `db:"request_id" json:"request_id,omitempty"`
	Status     string    `db:"status" json:"status"`
	ErrorType  string    `db:"error_type" json:"error_type,omitempty"`
	ErrorCode  string    `db:"error_code" json:"error_code,omitempty"`
	Message    string    `db:"message" json:"message,omitempty"`
	Attempts   int       `db:"attempts" json:"attempts"`
	DurationMS int64     `db:"duration_ms" json:"duration_ms"`
	Source     string    `db:"source" json:"source"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Target is the service endpoint a call went to. *sdk.Client satisfies it.
type Target interface {
	Service() string
	Version() string
	Region() string
}

// NewCallRecord builds the record of a finished call
func NewCallRecord(t Target, action, source string, resp *sdk.Response, err error, duration time.Duration) *CallRecord {
	rec := &CallRecord{
		Service:    t.Service(),
		Version:    t.Version(),
		Region:     t.Region(),
		Action:     action,
		Status:     StatusSuccess,
		Attempts:   1,
		DurationMS: duration.Milliseconds(),
		Source:     source,
		CreatedAt:  time.Now().UTC(),
	}
	if resp != nil {
		rec.RequestID = resp.RequestID
	}
	if err == nil {
		return rec
	}

	rec.Status = StatusFailed
	rec.ErrorType = sdk.TypeOf(err).String()
	rec.RequestID = sdk.RequestIDOf(err)
	rec.Message = err.Error()
	if sdkErr, ok := asSDKError(err); ok {
		rec.ErrorCode = sdkErr.Code
		rec.Message = sdkErr.Message
		if sdkErr.Attempts > 0 {
			rec.Attempts = sdkErr.Attempts
		}
	}
	return rec
}

// Recorder persists call records
type Recorder interface {
	Record(ctx context.Context, rec *CallRecord) error
}

// NopRecorder discards records
type NopRecorder struct{}

// Record implements Recorder
func (NopRecorder) Record(context.Context, *CallRecord) error { return nil }
