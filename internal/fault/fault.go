// Package fault is the error taxonomy shared by every vdt operation. Each
// failure carries a stable code and a remediation hint so callers can answer
// with a model.ToolResponse instead of crashing.
package fault

import (
	"context"
	"errors"
	"fmt"

	"github.com/dairui1/vdt/internal/model"
)

// Code is a stable identifier for a failure mode.
type Code string

const (
	ArtifactMissing        Code = "ARTIFACT_MISSING"
	MalformedRecord        Code = "MALFORMED_RECORD"
	BackendUnavailable     Code = "BACKEND_UNAVAILABLE"
	BackendTimeout         Code = "BACKEND_TIMEOUT"
	BackendExecutionFailed Code = "BACKEND_EXECUTION_FAILED"
	BackendExhausted       Code = "BACKEND_EXHAUSTED"
	ResultMalformed        Code = "RESULT_MALFORMED"
	SessionNotFound        Code = "SESSION_NOT_FOUND"
	UnknownChunk           Code = "UNKNOWN_CHUNK"
	InvalidInput           Code = "INVALID_INPUT"
	Internal               Code = "INTERNAL"
)

// hints maps codes to the default remediation shown to users.
var hints = map[Code]string{
	ArtifactMissing:        "Check that the session has a capture in logs/ before analyzing",
	MalformedRecord:        "Inspect the capture file; each line must be one JSON event",
	BackendUnavailable:     "Check reasoners.toml and the backend's command or API key",
	BackendTimeout:         "Increase the timeouts in reasoners.toml or narrow the inputs",
	BackendExecutionFailed: "Run the backend command by hand to see its output",
	BackendExhausted:       "All backends failed; see vdt errors --sid for details",
	ResultMalformed:        "The backend answered with non-JSON text; try another backend",
	SessionNotFound:        "Start a session with vdt session start",
	UnknownChunk:           "List valid ids with vdt chunks --sid",
	InvalidInput:           "Check the command arguments",
	Internal:               "Please report this issue",
}

// Hint returns the default hint for code.
func Hint(code Code) string {
	return hints[code]
}

// Error is a coded failure with an optional underlying cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
	cause   error
}

// New returns an Error with the default hint for code.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Hint: hints[code]}
}

// Wrap returns an Error for code that wraps cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	e := New(code, format, args...)
	e.cause = cause
	return e
}

// WithHint replaces the hint.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code, so errors.Is(err, fault.New(c, ""))
// works across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain. Context
// deadline errors map to BackendTimeout; anything else is Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return BackendTimeout
	}
	return Internal
}

// Has reports whether any error in err's chain carries code.
func Has(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.cause
	}
	return false
}

// Response converts err into the user-facing envelope.
func Response(err error) model.ToolResponse {
	var e *Error
	if errors.As(err, &e) {
		hint := e.Hint
		if hint == "" {
			hint = hints[e.Code]
		}
		return model.ToolResponse{IsError: true, Message: err.Error(), Hint: hint}
	}
	code := CodeOf(err)
	return model.ToolResponse{IsError: true, Message: err.Error(), Hint: hints[code]}
}

// OK wraps data in a successful envelope.
func OK(data any) model.ToolResponse {
	return model.ToolResponse{Data: data}
}
