package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/birbparty/qcloud-nest/sdk"
)

// DLQHandler handles dead letter queue operations
type DLQHandler struct {
	client *Client
	config *Config
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(client *Client) *DLQHandler {
	return &DLQHandler{
		client: client,
		config: client.config,
	}
}

// NewDLQMessage describes a message that failed with err
func NewDLQMessage(original *nats.Msg, err error) *DLQMessage {
	dlqMsg := &DLQMessage{
		OriginalMessage: original.Data,
		OriginalSubject: original.Subject,
		Error:           err.Error(),
		ErrorType:       sdk.TypeOf(err).String(),
		FailedAt:        time.Now().UTC(),
	}
	if errors.Is(err, ErrInvalidMessage) {
		dlqMsg.ErrorType = "invalid_message"
	}
	if meta, metaErr := original.Metadata(); metaErr == nil {
		dlqMsg.Deliveries = meta.NumDelivered
	}
	return dlqMsg
}

// SendToDLQ sends a failed message to the dead letter queue
func (h *DLQHandler) SendToDLQ(ctx context.Context, originalMsg *nats.Msg, err error) error {
	dlqMsg := NewDLQMessage(originalMsg, err)

	data, err := dlqMsg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	headers := nats.Header{}
	headers.Set("X-Original-Subject", originalMsg.Subject)
	headers.Set("X-Failed-At", dlqMsg.FailedAt.Format(time.RFC3339))
	headers.Set("X-Deliveries", strconv.FormatUint(dlqMsg.Deliveries, 10))

	return h.client.publish(ctx, &nats.Msg{
		Subject: SubjectDLQ,
		Data:    data,
		Header:  headers,
	})
}

// GetDLQStats returns statistics about the DLQ
func (h *DLQHandler) GetDLQStats() (*DLQStats, error) {
	streamInfo, err := h.client.StreamInfo(h.config.DLQStreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ stream info: %w", err)
	}

	return &DLQStats{
		TotalMessages: streamInfo.State.Msgs,
		StreamBytes:   streamInfo.State.Bytes,
		OldestMessage: streamInfo.State.FirstTime,
		NewestMessage: streamInfo.State.LastTime,
	}, nil
}

// PurgeDLQ removes all messages from the DLQ
func (h *DLQHandler) PurgeDLQ(ctx context.Context) error {
	if err := h.client.js.PurgeStream(h.config.DLQStreamName, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to purge DLQ: %w", err)
	}
	return nil
}

// DLQStats represents statistics about the DLQ
type DLQStats struct {
	TotalMessages uint64    `json:"total_messages"`
	StreamBytes   uint64    `json:"stream_bytes"`
	OldestMessage time.Time `json:"oldest_message"`
	NewestMessage time.Time `json:"newest_message"`
}

// IsRetryable reports whether a failed action should be redelivered.
// Errors answered by the API are final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidMessage) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch sdk.TypeOf(err) {
	case sdk.ErrorTypeUnknown:
		return true
	case sdk.ErrorTypeClient:
		var sdkErr *sdk.Error
		return errors.As(err, &sdkErr) && sdkErr.Code == networkErrorCode
	default:
		return false
	}
}

// networkErrorCode is the code the Tencent SDK reports for failed round trips
const networkErrorCode = "ClientError.NetworkError"

