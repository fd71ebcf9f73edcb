package sdk

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for use with errors.Is. Every error returned by the SDK is
// an *Error whose Type determines which sentinels it matches. Parent
// categories match too, so an authentication failure is also a configuration
// error and a missing service is also a discovery error.
//
// Example:
//
//	client, err := sdk.NewClient("cvm", "ap-guangzhou", nil)
//	switch {
//	case errors.Is(err, sdk.ErrAuthentication):
//	    // no credentials configured
//	case errors.Is(err, sdk.ErrServiceNotFound):
//	    // unknown service name
//	case errors.Is(err, sdk.ErrDiscovery):
//	    // registry data missing or corrupt
//	}
var (
	// ErrWrapper matches every error produced by the SDK
	ErrWrapper = errors.New("qcloud wrapper error")

	// ErrConfiguration is returned for invalid or incomplete client configuration
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthentication is returned when no usable credentials were found
	ErrAuthentication = errors.New("authentication error")

	// ErrDiscovery is returned when service metadata cannot be loaded
	ErrDiscovery = errors.New("service discovery error")

	// ErrServiceNotFound is returned when a service name is not in the registry
	ErrServiceNotFound = errors.New("service not found")

	// ErrServiceDefinition is returned for incomplete descriptors or unknown API versions
	ErrServiceDefinition = errors.New("invalid service definition")

	// ErrAPI matches both client and server side API failures
	ErrAPI = errors.New("api error")

	// ErrClient is returned when a request is rejected before it reaches the API
	ErrClient = errors.New("client error")

	// ErrServer is returned when the API answered with an error envelope
	ErrServer = errors.New("server error")
)

// ErrorType categorizes SDK errors.
//
// Example:
//
//	var sdkErr *sdk.Error
//	if errors.As(err, &sdkErr) {
//	    switch sdkErr.Type {
//	    case sdk.ErrorTypeServer:
//	        log.Printf("request %s failed: %s", sdkErr.RequestID, sdkErr.Code)
//	    case sdk.ErrorTypeAuthentication:
//	        // ask the operator for credentials
//	    }
//	}
type ErrorType int

const (
	// ErrorTypeUnknown wraps failures that could not be classified
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeConfig represents invalid client configuration
	ErrorTypeConfig
	// ErrorTypeAuthentication represents missing or unusable credentials
	ErrorTypeAuthentication
	// ErrorTypeDiscovery represents a registry that could not be loaded
	ErrorTypeDiscovery
	// ErrorTypeServiceNotFound represents an unknown service name
	ErrorTypeServiceNotFound
	// ErrorTypeServiceDefinition represents a corrupt descriptor or unknown version
	ErrorTypeServiceDefinition
	// ErrorTypeClient represents a request rejected locally
	ErrorTypeClient
	// ErrorTypeServer represents an error reported by the remote API
	ErrorTypeServer
)

// String returns the string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeConfig:
		return "configuration"
	case ErrorTypeAuthentication:
		return "authentication"
	case ErrorTypeDiscovery:
		return "discovery"
	case ErrorTypeServiceNotFound:
		return "service_not_found"
	case ErrorTypeServiceDefinition:
		return "service_definition"
	case ErrorTypeClient:
		return "client"
	case ErrorTypeServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by the SDK.
//
// Server errors carry the API error Code and the RequestID assigned by the
// remote side. When a retry loop gives up, Attempts holds the number of calls
// that were made.
//
// Example:
//
//	var sdkErr *sdk.Error
//	if errors.As(err, &sdkErr) && sdkErr.Type == sdk.ErrorTypeServer {
//	    fmt.Printf("code=%s request=%s attempts=%d\n",
//	        sdkErr.Code, sdkErr.RequestID, sdkErr.Attempts)
//	}
type Error struct {
	// Type categorizes the error for handling decisions
	Type ErrorType `json:"type"`
	// Code is the API error code, e.g. "ResourceInUse" or "AuthFailure.SignatureFailure"
	Code string `json:"code,omitempty"`
	// Message is a human-readable error description
	Message string `json:"message"`
	// RequestID is the request identifier assigned by the API
	RequestID string `json:"request_id,omitempty"`
	// Service is the registry name of the service the call was made against
	Service string `json:"service,omitempty"`
	// Action is the API action that failed
	Action string `json:"action,omitempty"`
	// Attempts is the number of calls made before giving up
	Attempts int `json:"attempts,omitempty"`
	// Details contains additional error metadata
	Details map[string]interface{} `json:"details,omitempty"`
	// Timestamp is when the error occurred
	Timestamp time.Time `json:"timestamp"`
	// wrapped is the underlying error, if any
	wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error", e.Type)
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request id: %s)", e.RequestID)
	}
	if e.wrapped != nil && e.Type == ErrorTypeUnknown {
		fmt.Fprintf(&b, ": %v", e.wrapped)
	}
	return b.String()
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is implements errors.Is
func (e *Error) Is(target error) bool {
	if target == ErrWrapper {
		return true
	}
	switch e.Type {
	case ErrorTypeConfig:
		return target == ErrConfiguration
	case ErrorTypeAuthentication:
		return target == ErrAuthentication || target == ErrConfiguration
	case ErrorTypeDiscovery:
		return target == ErrDiscovery
	case ErrorTypeServiceNotFound:
		return target == ErrServiceNotFound || target == ErrDiscovery
	case ErrorTypeServiceDefinition:
		return target == ErrServiceDefinition || target == ErrDiscovery
	case ErrorTypeClient:
		return target == ErrClient || target == ErrAPI
	case ErrorTypeServer:
		return target == ErrServer || target == ErrAPI
	}
	return false
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// withCall records the service and action on the error
func (e *Error) withCall(service, action string) *Error {
	if e.Service == "" {
		e.Service = service
	}
	if e.Action == "" {
		e.Action = action
	}
	return e
}

// NewError creates a new SDK error
func NewError(errType ErrorType, message string, wrapped error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		wrapped:   wrapped,
	}
}

// NewServerError creates an error for an API error envelope
func NewServerError(code, message, requestID string) *Error {
	err := NewError(ErrorTypeServer, message, nil)
	err.Code = code
	err.RequestID = requestID
	return err
}

// NewClientError creates an error for a request rejected before dispatch
func NewClientError(code, message string, wrapped error) *Error {
	err := NewError(ErrorTypeClient, message, wrapped)
	err.Code = code
	return err
}

// WrapError converts any error into an *Error. SDK errors are returned as-is;
// anything else becomes an ErrorTypeUnknown error that keeps the cause
// reachable through errors.Unwrap.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	var sdkErr *Error
	if errors.As(err, &sdkErr) {
		return sdkErr
	}
	return NewError(ErrorTypeUnknown, message, err)
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown for foreign errors.
func TypeOf(err error) ErrorType {
	var sdkErr *Error
	if errors.As(err, &sdkErr) {
		return sdkErr.Type
	}
	return ErrorTypeUnknown
}

// RequestIDOf returns the API request id carried by err, if any.
func RequestIDOf(err error) string {
	var sdkErr *Error
	if errors.As(err, &sdkErr) {
		return sdkErr.RequestID
	}
	return ""
}
