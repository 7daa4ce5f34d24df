package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// RPCError is returned when the node answers with an error payload.
// Code and Message are populated when the payload has the standard
// {code, message} shape; Data always carries the raw payload.
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	if e.Message == "" && e.Code == 0 {
		return fmt.Sprintf("RPC error: %s", string(e.Data))
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// TransportError wraps failures below the JSON-RPC layer: connection
// errors, non-200 responses and undecodable bodies.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRPCError reports whether err carries a server-reported error payload.
func IsRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// IsTransportError reports whether err is a network or transport failure.
func IsTransportError(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}

// parseRPCError converts a non-null error member into an *RPCError.
// Any shape is accepted.
func parseRPCError(raw json.RawMessage) *RPCError {
	rpcErr := &RPCError{Data: raw}
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		rpcErr.Code = payload.Code
		rpcErr.Message = payload.Message
	}
	return rpcErr
}
