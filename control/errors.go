package control

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a response cannot be classified.
	ErrMalformed = errors.New("malformed response")
)

// DeviceError is an application-level failure reported by the device,
// either an explicit ERR response or a non-OK write acknowledgment.
type DeviceError struct {
	Path    string
	Message string
}

func (e *DeviceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("device error: %s", e.Message)
	}
	return fmt.Sprintf("device error for %s: %s", e.Path, e.Message)
}

// ProtocolError is a malformed or unparseable device response.
type ProtocolError struct {
	Path     string
	Response string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected response for %s: %q", e.Path, e.Response)
}

func (e *ProtocolError) Unwrap() error { return ErrMalformed }
