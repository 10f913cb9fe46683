// Package protocol defines shared message types for client-agent communication.
package protocol

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkowalczyk/siteblock/internal/accesslog"
	"github.com/pkowalczyk/siteblock/internal/blocker"
)

// SocketPath returns the per-user Unix socket path. The agent runs
// unprivileged, so the socket lives in the user's runtime directory, not
// a system one.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "siteblock.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("siteblock-%d.sock", os.Getuid()))
}

// RequestType defines the type of request.
type RequestType string

const (
	RequestPing    RequestType = "ping"
	RequestStatus  RequestType = "status"
	RequestList    RequestType = "list"
	RequestAdd     RequestType = "add"
	RequestRemove  RequestType = "remove"
	RequestEnable  RequestType = "enable"
	RequestDisable RequestType = "disable"
	RequestLog     RequestType = "log"
)

// ErrorCode defines standard error codes.
type ErrorCode string

const (
	ErrCodeInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrCodeInvalidDomain   ErrorCode = "INVALID_DOMAIN"
	ErrCodeEmptyBlocklist  ErrorCode = "EMPTY_BLOCKLIST"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodePermissionError ErrorCode = "PERMISSION_ERROR"
	ErrCodeInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Request represents a client request to the agent.
type Request struct {
	Type    RequestType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DomainsPayload is the payload for add and remove requests.
type DomainsPayload struct {
	Domains []string `json:"domains"`
}

// LogPayload is the payload for log requests. Days of zero means the
// whole history.
type LogPayload struct {
	Days int `json:"days,omitempty"`
}

// Response represents an agent response.
type Response struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    ErrorCode       `json:"code,omitempty"`
}

// ListData is the data for list responses.
type ListData struct {
	Domains []string `json:"domains"`
}

// DomainsData is the data for add and remove responses: the domains
// actually changed, after normalization and deduplication.
type DomainsData struct {
	Domains []string `json:"domains"`
}

// LogData is the data for log responses.
type LogData struct {
	Entries []accesslog.Entry `json:"entries"`
}

// StatusData aliases the service snapshot so both ends share one shape.
type StatusData = blocker.Status

// NewRequest creates a new request with the given type and payload.
func NewRequest(reqType RequestType, payload interface{}) (*Request, error) {
	req := &Request{Type: reqType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		req.Payload = data
	}
	return req, nil
}

// NewOKResponse creates a success response with optional data.
func NewOKResponse(data interface{}) (*Response, error) {
	resp := &Response{Status: "ok"}
	if data != nil {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		resp.Data = dataBytes
	}
	return resp, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(code ErrorCode, message string) *Response {
	return &Response{
		Status:  "error",
		Code:    code,
		Message: message,
	}
}

// ParsePayload unmarshals the request payload into the given target.
func (r *Request) ParsePayload(target interface{}) error {
	if r.Payload == nil {
		return fmt.Errorf("no payload in request")
	}
	return json.Unmarshal(r.Payload, target)
}

// ParseData unmarshals the response data into the given target.
func (r *Response) ParseData(target interface{}) error {
	if r.Data == nil {
		return fmt.Errorf("no data in response")
	}
	return json.Unmarshal(r.Data, target)
}

// IsOK returns true if the response indicates success.
func (r *Response) IsOK() bool {
	return r.Status == "ok"
}
