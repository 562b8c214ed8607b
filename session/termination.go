package session

import "log/slog"

// Reason tells why a connection attempt ended.
type Reason uint8

// Termination reasons.
const (
	// ReasonNone means the attempt has not ended yet.
	ReasonNone Reason = iota
	// ReasonLocalClose means Close was called or the read loop context was canceled.
	ReasonLocalClose
	// ReasonPeerClosed means the remote end closed its side of the stream.
	ReasonPeerClosed
	// ReasonTimeout means the dial did not complete within the connect timeout.
	ReasonTimeout
	// ReasonRefused means the remote host refused the connection.
	ReasonRefused
	// ReasonIOError means an unexpected socket error ended the attempt.
	ReasonIOError
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonLocalClose:
		return "local_close"
	case ReasonPeerClosed:
		return "peer_closed"
	case ReasonTimeout:
		return "timeout"
	case ReasonRefused:
		return "refused"
	case ReasonIOError:
		return "io_error"
	default:
		return "unknown"
	}
}

// LogValue logs the reason by name.
func (r Reason) LogValue() slog.Value { return slog.StringValue(r.String()) }

// Termination is the terminal status of one connection attempt.
// It is emitted exactly once per attempt.
type Termination struct {
	Reason Reason
	// Err is set for failures and nil for orderly closes.
	Err error
}

// Failed reports whether the attempt ended in FailedState.
func (t Termination) Failed() bool {
	switch t.Reason {
	case ReasonTimeout, ReasonRefused, ReasonIOError:
		return true
	default:
		return false
	}
}

// State returns the state the session settles in for this termination.
func (t Termination) State() State {
	if t.Failed() {
		return FailedState
	}

	return DisconnectedState
}

func (t Termination) String() string {
	if t.Err == nil {
		return t.Reason.String()
	}

	return t.Reason.String() + ": " + t.Err.Error()
}

// TerminationHandler is invoked once when a connection attempt ends.
type TerminationHandler func(term Termination)
