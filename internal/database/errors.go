package database

import "errors"

// Error codes delivered through OnCancelled
const (
	ErrCodePermissionDenied = "permission-denied"
	ErrCodeDisconnected     = "disconnected"
)

// Error describes why a listener was cancelled
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError creates a new database error
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

var (
	// ErrClosed is returned by operations on a closed database
	ErrClosed = errors.New("database is closed")
	// ErrPermissionDenied is returned by reads the rules reject
	ErrPermissionDenied = errors.New("permission denied")
)
