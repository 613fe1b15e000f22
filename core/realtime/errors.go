package realtime

import (
	"errors"
	"fmt"
)

var (
	ErrNotOpen      = errors.New("session is not open")
	ErrInvalidState = errors.New("operation not valid in current session state")
	ErrClosed       = errors.New("session closed")
	// ErrUnsupportedSampleRate is returned for sessions configured with a
	// rate the pcm16 wire format does not carry.
	ErrUnsupportedSampleRate = errors.New("unsupported sample rate")
)

// ConnectionError is a handshake or transport failure. The client is left
// in the failed state and must be reconnected explicitly.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("realtime connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ServiceError is an error reported by the remote service.
type ServiceError struct {
	Type    string
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("realtime service error (%s): %s", e.Type, e.Message)
	}
	return fmt.Sprintf("realtime service error (%s/%s): %s", e.Type, e.Code, e.Message)
}

// ProtocolError describes an inbound message that could not be
// interpreted. It is logged and never ends the session.
type ProtocolError struct {
	Type string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("realtime protocol error for %q: %v", e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
