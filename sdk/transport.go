package sdk

import (
	"context"
	"encoding/json"
	"fmt"
)

// Transport sends one API action and returns the raw response body.
//
// Implementations return *Error values for failures they can classify.
// Any other error is wrapped by the client as an ErrorTypeUnknown error.
type Transport interface {
	Call(ctx context.Context, action string, params map[string]interface{}, headers map[string]string) ([]byte, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, action string, params map[string]interface{}, headers map[string]string) ([]byte, error)

// Call implements Transport
func (f TransportFunc) Call(ctx context.Context, action string, params map[string]interface{}, headers map[string]string) ([]byte, error) {
	return f(ctx, action, params, headers)
}

// TransportFactory builds a Transport for a resolved Config.
type TransportFactory func(cfg *Config, opts *ClientConfig) (Transport, error)

// Response is a successful API response.
type Response struct {
	// RequestID is the id the API assigned to the request
	RequestID string `json:"request_id"`
	// Body is the content of the "Response" object
	Body json.RawMessage `json:"body"`
}

// Decode unmarshals the response object into v.
func (r *Response) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return NewError(ErrorTypeUnknown, "failed to decode response body", err).
			WithDetail("request_id", r.RequestID)
	}
	return nil
}

// Map returns the response object as a generic map.
func (r *Response) Map() (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := r.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

type envelope struct {
	Response json.RawMessage `json:"Response"`
}

type envelopeBody struct {
	Error *struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	} `json:"Error"`
	RequestID string `json:"RequestId"`
}

// DecodeResponse parses an API body of the form
// {"Response": {..., "RequestId": "..."}}. An "Error" object inside the
// envelope becomes an ErrorTypeServer error; a body that is not an
// envelope becomes an ErrorTypeServer error with code MalformedResponse.
func DecodeResponse(body []byte) (*Response, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, malformed(fmt.Sprintf("response is not valid JSON: %v", err))
	}
	if len(env.Response) == 0 || string(env.Response) == "null" {
		return nil, malformed("response has no Response object")
	}

	var inner envelopeBody
	if err := json.Unmarshal(env.Response, &inner); err != nil {
		return nil, malformed(fmt.Sprintf("Response is not an object: %v", err))
	}
	if inner.Error != nil {
		return nil, NewServerError(inner.Error.Code, inner.Error.Message, inner.RequestID)
	}

	return &Response{RequestID: inner.RequestID, Body: env.Response}, nil
}

func malformed(message string) *Error {
	err := NewError(ErrorTypeServer, message, nil)
	err.Code = "MalformedResponse"
	return err
}
