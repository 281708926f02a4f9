package channel

import "fmt"

// Error codes returned by stream handlers and sessions
const (
	CodeInvalidArgument    = "invalid-argument"
	CodeFailedPrecondition = "failed-precondition"
	CodeNotFound           = "not-found"
	CodeResourceExhausted  = "resource-exhausted"
)

// Arguments is the decoded argument map of a listen or cancel request
type Arguments map[string]any

// String returns the string stored under key
func (a Arguments) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// EventSink delivers events from a stream handler to its subscriber.
// A sink is only valid between OnListen and OnCancel.
type EventSink interface {
	// Success emits one event
	Success(event any)
	// Error emits an error event
	Error(code, message string, details any)
	// EndOfStream closes the stream; later calls are ignored
	EndOfStream()
}

// StreamHandler serves one event channel
type StreamHandler interface {
	// OnListen starts emitting events on sink
	OnListen(args Arguments, sink EventSink) error
	// OnCancel stops the stream; sink must not be used afterwards
	OnCancel(args Arguments)
}

// Error is returned when a channel operation is rejected
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// NewError creates a new channel error
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a new channel error with a formatted message
func Errorf(code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Envelope is one message emitted on a channel
type Envelope struct {
	Event any    `json:"event,omitempty"`
	Error *Error `json:"error,omitempty"`
	End   bool   `json:"end,omitempty"`
}

// EmitFunc transports an envelope for the named channel to the subscriber
type EmitFunc func(name string, env Envelope)
