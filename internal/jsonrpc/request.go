package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Request represents a JSON-RPC request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

// Validate checks if the request is valid
func (r *Request) Validate() error {
	if r.JSONRPC != Version {
		return fmt.Errorf("invalid jsonrpc version: %s", r.JSONRPC)
	}
	if r.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// IsNotification returns true if this is a notification (no ID)
func (r *Request) IsNotification() bool {
	return r.ID.IsNull()
}

// ParamsAs unmarshals the params object into v
func (r *Request) ParamsAs(v interface{}) error {
	if len(r.Params) == 0 || string(r.Params) == "null" {
		return fmt.Errorf("params are required")
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return fmt.Errorf("invalid params format: %w", err)
	}
	return nil
}

// ParseBatchRequest parses a batch of JSON-RPC requests
// Returns a slice of requests, or a single request if not a batch
func ParseBatchRequest(data []byte) ([]*Request, bool, error) {
	data = trimWhitespace(data)
	if len(data) == 0 {
		return nil, false, ErrInvalidRequest
	}

	if data[0] == '[' {
		var requests []*Request
		if err := json.Unmarshal(data, &requests); err != nil {
			return nil, true, fmt.Errorf("failed to parse batch request: %w", err)
		}
		if len(requests) == 0 {
			return nil, true, ErrInvalidRequest
		}
		return requests, true, nil
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false, fmt.Errorf("failed to parse request: %w", err)
	}
	return []*Request{&req}, false, nil
}

// NewRequest creates a new JSON-RPC request
func NewRequest(method string, params interface{}, id ID) (*Request, error) {
	req := &Request{
		JSONRPC: Version,
		Method:  method,
		ID:      id,
	}

	if params != nil {
		paramsBytes, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = paramsBytes
	}

	return req, nil
}

// Bytes returns the request as JSON bytes
func (r *Request) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// trimWhitespace removes leading whitespace from byte slice
func trimWhitespace(data []byte) []byte {
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return data[i:]
		}
	}
	return data
}
