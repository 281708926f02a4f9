package jsonrpc

import "encoding/json"

// Version is the JSON-RPC version
const Version = "2.0"

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Application codes: -32000 to -32099
	CodeServerError        = -32000
	CodeNotFound           = -32001
	CodePermissionDenied   = -32003
	CodeFailedPrecondition = -32009
	CodeResourceExhausted  = -32029
)

// Methods handled by the WebSocket transport itself
const (
	MethodChannelListen = "EventChannel#listen"
	MethodChannelCancel = "EventChannel#cancel"
	MethodChannelEvent  = "EventChannel#event"
)

// ID represents a JSON-RPC request/response ID
// It can be a string, number, or null
type ID struct {
	value interface{}
}

// NewIDString creates an ID from a string
func NewIDString(s string) ID {
	return ID{value: s}
}

// NewIDInt creates an ID from an integer
func NewIDInt(n int64) ID {
	return ID{value: n}
}

// NewIDNull creates a null ID
func NewIDNull() ID {
	return ID{value: nil}
}

// IsNull returns true if the ID is null
func (id ID) IsNull() bool {
	return id.value == nil
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &id.value)
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// NewError creates a new JSON-RPC error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithData creates a new JSON-RPC error with data
func NewErrorWithData(code int, message string, data interface{}) *Error {
	e := NewError(code, message)
	if data != nil {
		if rawData, err := json.Marshal(data); err == nil {
			e.Data = rawData
		}
	}
	return e
}

// Common errors
var (
	ErrParse          = NewError(CodeParseError, "Parse error")
	ErrInvalidRequest = NewError(CodeInvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewError(CodeMethodNotFound, "Method not found")
	ErrInvalidParams  = NewError(CodeInvalidParams, "Invalid params")
	ErrInternal       = NewError(CodeInternalError, "Internal error")
)

// Notification is a server-initiated message without an ID
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// NewNotification creates a notification with params marshaled to JSON
func NewNotification(method string, params interface{}) (*Notification, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Notification{
		JSONRPC: Version,
		Method:  method,
		Params:  data,
	}, nil
}

// Bytes returns the notification as JSON bytes
func (n *Notification) Bytes() ([]byte, error) {
	return json.Marshal(n)
}
