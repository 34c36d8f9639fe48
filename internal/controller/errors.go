package controller

import (
	"errors"
	"fmt"
)

// Domain-specific errors for controller requests.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRequestFailed is returned when the controller answers with a non-2xx status.
	ErrRequestFailed = errors.New("controller: request failed")

	// ErrNetwork is returned when the request never produced a response.
	ErrNetwork = errors.New("controller: network error")

	// ErrTimeout is returned when a request exceeds its timeout.
	ErrTimeout = errors.New("controller: request timed out")

	// ErrMalformedResponse is returned when a response body is not valid HAL+JSON.
	ErrMalformedResponse = errors.New("controller: malformed response")

	// ErrInvalidConfig is returned when the client configuration is unusable.
	ErrInvalidConfig = errors.New("controller: invalid configuration")
)

// HTTPStatus is the HTTP status line of a failed request. Code is 0 when no
// response was received.
type HTTPStatus struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

// ControllerStatus is a decoded controller return code.
type ControllerStatus struct {
	Code        int    `json:"code"`
	Name        string `json:"name"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// StatusError is the structured failure returned by every Client request.
type StatusError struct {
	Message          string            `json:"message"`
	Method           string            `json:"method"`
	Path             string            `json:"path"`
	HTTPStatus       HTTPStatus        `json:"httpStatus"`
	ControllerStatus *ControllerStatus `json:"controllerStatus,omitempty"`

	// Err is one of the package sentinels, optionally wrapping the cause.
	Err error `json:"-"`
}

// Error implements error.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Message)
	if e.HTTPStatus.Code != 0 {
		msg += fmt.Sprintf(" (%d %s)", e.HTTPStatus.Code, e.HTTPStatus.Text)
	}
	if e.ControllerStatus != nil && e.ControllerStatus.Name != "" {
		msg += fmt.Sprintf(" [%s: %s]", e.ControllerStatus.Name, e.ControllerStatus.Description)
	}
	return msg
}

// Unwrap allows errors.Is to match the package sentinels.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// HTTPCode returns the HTTP status code carried by err, or 0 if err is not a StatusError.
func HTTPCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.HTTPStatus.Code
	}
	return 0
}
