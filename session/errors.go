package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectTimeout indicates that the TCP dial did not complete within the connect timeout.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrConnectRefused indicates that the remote host actively refused the connection.
	ErrConnectRefused = errors.New("connection refused")

	// ErrNotConnected indicates that the operation requires the connected state.
	ErrNotConnected = errors.New("session is not connected")

	// ErrInvalidTransition indicates that an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionClosed indicates that the session was closed locally while the operation was in progress.
	ErrSessionClosed = errors.New("session closed")

	// ErrReadLoopRunning indicates that a read loop is already running for the current connection.
	ErrReadLoopRunning = errors.New("read loop already running")

	// ErrCloseTimeout indicates that the connection did not finish tearing down within the close timeout.
	ErrCloseTimeout = errors.New("close timeout")

	// ErrConfigNil indicates that a nil Config was provided.
	ErrConfigNil = errors.New("session config is nil")
)

// Op identifies the socket operation that produced an IOError.
type Op string

// Socket operations.
const (
	OpConnect Op = "connect"
	OpRead    Op = "read"
	OpWrite   Op = "write"
)

// IOError is an unexpected socket failure.
type IOError struct {
	Op  Op
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ConnectError describes a failed dial. Kind is ErrConnectTimeout or ErrConnectRefused;
// errors.Is matches both Kind and the underlying network error.
type ConnectError struct {
	Addr  string
	Kind  error
	Cause error
}

func (e *ConnectError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("connect to %s: %v", e.Addr, e.Kind)
	}

	return fmt.Sprintf("connect to %s: %v: %v", e.Addr, e.Kind, e.Cause)
}

func (e *ConnectError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Cause}
}
