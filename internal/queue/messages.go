package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/birbparty/qcloud-nest/sdk"
)

// Subject names
const (
	SubjectActions       = "qcloud.actions"
	SubjectDLQ           = "qcloud.actions.dlq"
	SubjectResultsPrefix = "qcloud.results."
	SubjectResults       = SubjectResultsPrefix + "*"
)

// Result status values
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrInvalidMessage marks messages that can never be processed
var ErrInvalidMessage = errors.New("invalid action message")

// ResultSubject returns the subject a message's result is published on
func ResultSubject(id string) string {
	return SubjectResultsPrefix + id
}

// ActionMessage asks a worker to execute one cloud API action
type ActionMessage struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version,omitempty"`
	Region    string                 `json:"region"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Headers   map[string]string      `json:"headers,omitempty"`
	// Retry enables the task-in-progress retry loop
	Retry bool `json:"retry"`
	// MaxRetries and RetryDelay override the worker's retry policy when set
	MaxRetries *int   `json:"max_retries,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`
}

// NewActionMessage creates an action message with a fresh id
func NewActionMessage(service, version, region, action string, params map[string]interface{}) *ActionMessage {
	return &ActionMessage{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Service:   service,
		Version:   version,
		Region:    region,
		Action:    action,
		Params:    params,
	}
}

// Validate checks the fields a worker needs
func (m *ActionMessage) Validate() error {
	var missing []string
	if m.ID == "" {
		missing = append(missing, "id")
	}
	if m.Service == "" {
		missing = append(missing, "service")
	}
	if m.Region == "" {
		missing = append(missing, "region")
	}
	if m.Action == "" {
		missing = append(missing, "action")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidMessage, strings.Join(missing, ", "))
	}
	if m.MaxRetries != nil && *m.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidMessage)
	}
	if m.RetryDelay != "" {
		if d, err := time.ParseDuration(m.RetryDelay); err != nil || d < 0 {
			return fmt.Errorf("%w: bad retry_delay %q", ErrInvalidMessage, m.RetryDelay)
		}
	}
	return nil
}

// RetryPolicy applies the message overrides to base
func (m *ActionMessage) RetryPolicy(base sdk.RetryPolicy) sdk.RetryPolicy {
	if m.MaxRetries != nil {
		base.MaxRetries = *m.MaxRetries
	}
	if m.RetryDelay != "" {
		if d, err := time.ParseDuration(m.RetryDelay); err == nil {
			base.Delay = d
		}
	}
	return base
}

// CheckRetryLimits rejects retry overrides that fall outside limits. The
// base policy is operator configuration and is not checked.
func (m *ActionMessage) CheckRetryLimits(base sdk.RetryPolicy, limits sdk.RetryLimits) error {
	if !m.Retry || (m.MaxRetries == nil && m.RetryDelay == "") {
		return nil
	}
	if err := limits.Check(m.RetryPolicy(base)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// Marshal converts the message to JSON bytes
func (m *ActionMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalActionMessage unmarshals an action message from JSON
func UnmarshalActionMessage(data []byte) (*ActionMessage, error) {
	var msg ActionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return &msg, nil
}

// ResultError describes a failed action
type ResultError struct {
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ResultMessage is the outcome of an ActionMessage
type ResultMessage struct {
	ID          string          `json:"id"`
	Service     string          `json:"service"`
	Version     string          `json:"version"`
	Region      string          `json:"region"`
	Action      string          `json:"action"`
	Status      string          `json:"status"`
	RequestID   string          `json:"request_id,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       *ResultError    `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	DurationMS  int64           `json:"duration_ms"`
	CompletedAt time.Time       `json:"completed_at"`
}

// NewResultError describes err the way API clients see it
func NewResultError(err error) *ResultError {
	re := &ResultError{
		Type:      sdk.TypeOf(err).String(),
		Message:   err.Error(),
		RequestID: sdk.RequestIDOf(err),
	}
	var sdkErr *sdk.Error
	if errors.As(err, &sdkErr) {
		re.Code = sdkErr.Code
		re.Message = sdkErr.Message
	}
	return re
}

// Marshal converts the message to JSON bytes
func (m *ResultMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalResultMessage unmarshals a result message from JSON
func UnmarshalResultMessage(data []byte) (*ResultMessage, error) {
	var msg ResultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DLQMessage represents a dead letter queue message
type DLQMessage struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	OriginalSubject string          `json:"original_subject"`
	Error           string          `json:"error"`
	ErrorType       string          `json:"error_type"`
	FailedAt        time.Time       `json:"failed_at"`
	Deliveries      uint64          `json:"deliveries"`
}

// Marshal converts the message to JSON bytes
func (m *DLQMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalDLQMessage unmarshals a DLQ message from JSON
func UnmarshalDLQMessage(data []byte) (*DLQMessage, error) {
	var msg DLQMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
