package api

import (
	"encoding/json"
	"errors"

	"github.com/birbparty/qcloud-nest/internal/audit"
	"github.com/birbparty/qcloud-nest/sdk"
)

// InvokeRequest is the body of an action call
type InvokeRequest struct {
	Region  string                 `json:"region"`
	Version string                 `json:"version,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Headers map[string]string      `json:"headers,omitempty"`
	// Retry enables the task-in-progress retry loop
	Retry      bool   `json:"retry,omitempty"`
	MaxRetries *int   `json:"max_retries,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`
}

// InvokeResponse is the result of a synchronous action call
type InvokeResponse struct {
	Service   string          `json:"service"`
	Version   string          `json:"version"`
	Region    string          `json:"region"`
	Action    string          `json:"action"`
	RequestID string          `json:"request_id"`
	Cached    bool            `json:"cached"`
	Response  json.RawMessage `json:"response"`
}

// AsyncResponse acknowledges an enqueued action
type AsyncResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
}

// ServiceResponse describes one registry entry
type ServiceResponse struct {
	Name          string   `json:"name"`
	Service       string   `json:"service"`
	Endpoint      string   `json:"endpoint"`
	APIVersions   []string `json:"api_versions"`
	LatestVersion string   `json:"latest_version"`
}

// ServicesResponse lists the registry
type ServicesResponse struct {
	Snapshot string   `json:"snapshot"`
	Count    int      `json:"count"`
	Services []string `json:"services"`
}

// AuditResponse lists recent call records
type AuditResponse struct {
	Records []audit.CallRecord `json:"records"`
	Count   int                `json:"count"`
}

// InvalidateResponse reports a cache invalidation
type InvalidateResponse struct {
	Service string `json:"service"`
	Removed int    `json:"removed"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Type      string `json:"type,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Details   string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
}

// Error codes
const (
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeUnavailable    = "UNAVAILABLE"
)

// NewErrorResponse creates a new error response
func NewErrorResponse(err string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: err,
		Code:  code,
	}
}

// NewErrorResponseWithDetails creates a new error response with details
func NewErrorResponseWithDetails(err string, code string, details string) *ErrorResponse {
	return &ErrorResponse{
		Error:   err,
		Code:    code,
		Details: details,
	}
}

// NewSDKErrorResponse describes an sdk error. API error codes are passed through.
func NewSDKErrorResponse(err error) *ErrorResponse {
	resp := &ErrorResponse{
		Error:     err.Error(),
		Code:      ErrCodeInternalError,
		Type:      sdk.TypeOf(err).String(),
		RequestID: sdk.RequestIDOf(err),
	}

	var sdkErr *sdk.Error
	if errors.As(err, &sdkErr) {
		resp.Error = sdkErr.Message
		if sdkErr.Code != "" {
			resp.Code = sdkErr.Code
			return resp
		}
	}

	switch sdk.TypeOf(err) {
	case sdk.ErrorTypeServiceNotFound:
		resp.Code = ErrCodeNotFound
	case sdk.ErrorTypeServiceDefinition, sdk.ErrorTypeConfig, sdk.ErrorTypeClient:
		resp.Code = ErrCodeInvalidRequest
	case sdk.ErrorTypeAuthentication:
		resp.Code = ErrCodeUnauthorized
	case sdk.ErrorTypeDiscovery:
		resp.Code = ErrCodeUnavailable
	}
	return resp
}

// ConvertToServiceResponse converts a registry descriptor to its API form
func ConvertToServiceResponse(d sdk.ServiceDescriptor) *ServiceResponse {
	resp := &ServiceResponse{
		Name:        d.Name,
		Service:     d.Service,
		Endpoint:    d.Endpoint,
		APIVersions: d.APIVersions,
	}
	for _, v := range d.APIVersions {
		if v > resp.LatestVersion {
			resp.LatestVersion = v
		}
	}
	return resp
}
