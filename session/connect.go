package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/arloliu/go-linebridge/line"
)

// Connect dials the configured device.
//
// It is allowed from DisconnectedState and FailedState and never blocks longer than the
// connect timeout. Dial failures return a *ConnectError matching ErrConnectTimeout or
// ErrConnectRefused, or an *IOError with OpConnect; the session ends up in FailedState.
// If Close interrupts the dial, Connect returns ErrSessionClosed and the session returns
// to DisconnectedState.
func (s *Session) Connect(ctx context.Context) error {
	r, err := line.New(line.WithMaxLineLength(s.cfg.MaxLineLength()))
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout())
	defer cancel()

	s.mu.Lock()
	if state := s.stateMgr.State(); state != DisconnectedState && state != FailedState {
		s.mu.Unlock()
		return fmt.Errorf("session: connect in %s state: %w", state, ErrInvalidTransition)
	}
	s.attempts++
	at := &attempt{
		id:          s.attempts,
		cancelDial:  cancel,
		reassembler: r,
		done:        make(chan struct{}),
	}
	// publish the attempt before the state change so that Close always finds it
	s.cur.Store(at)
	if err := s.stateMgr.To(ConnectingState); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.metrics.incConnectAttemptCount()
	s.logger.Debug("dialing", "method", "Connect", "attempt", at.id, "timeout", s.cfg.ConnectTimeout())

	conn, err := s.dial(dialCtx, "tcp", s.cfg.Addr())
	if err != nil {
		if at.finished.Load() {
			return ErrSessionClosed
		}

		term := s.classifyDialError(ctx, err)
		if term.Failed() {
			s.metrics.incConnectFailCount()
		}
		if !s.finish(at, term) {
			return ErrSessionClosed
		}
		if term.Reason == ReasonLocalClose {
			return fmt.Errorf("session: connect: %w", ctx.Err())
		}

		return term.Err
	}

	s.mu.Lock()
	if at.finished.Load() {
		s.mu.Unlock()
		_ = conn.Close()

		return ErrSessionClosed
	}
	at.conn = conn
	at.ready.Store(true)
	err = s.stateMgr.To(ConnectedState)
	s.mu.Unlock()

	if err != nil {
		s.finish(at, Termination{Reason: ReasonIOError, Err: &IOError{Op: OpConnect, Err: err}})
		return err
	}

	s.logger.Info("connected",
		"method", "Connect",
		"attempt", at.id,
		"local_addr", conn.LocalAddr().String(),
		"remote_addr", conn.RemoteAddr().String(),
	)

	return nil
}

// classifyDialError maps a dial error to the termination of the attempt.
// ctx is the caller context; its cancellation is a local close, not a failure.
// A *net.DNSError counts as a timeout only when the lookup timed out.
func (s *Session) classifyDialError(ctx context.Context, err error) Termination {
	addr := s.cfg.Addr()

	if errors.Is(ctx.Err(), context.Canceled) {
		return Termination{Reason: ReasonLocalClose}
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return Termination{Reason: ReasonRefused, Err: &ConnectError{Addr: addr, Kind: ErrConnectRefused, Cause: err}}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Termination{Reason: ReasonTimeout, Err: &ConnectError{Addr: addr, Kind: ErrConnectTimeout, Cause: err}}
	}

	return Termination{Reason: ReasonIOError, Err: &IOError{Op: OpConnect, Err: err}}
}
