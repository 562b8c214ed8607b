package session

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/arloliu/go-linebridge/protocol"
)

// ReadLoop reads the connected socket until the attempt ends, invoking event handlers
// for every decoded line in arrival order on the calling goroutine.
//
// It returns nil when the peer closes the stream, when Close is called, or when ctx is
// done; ctx cancellation closes the session. An unexpected socket error moves the session
// to FailedState and is returned as an *IOError.
//
// Undelimited bytes still buffered when the stream ends are discarded.
func (s *Session) ReadLoop(ctx context.Context) error {
	at, ok := s.connected()
	if !ok {
		return ErrNotConnected
	}
	if !at.reading.CompareAndSwap(false, true) {
		return ErrReadLoopRunning
	}

	stop := context.AfterFunc(ctx, func() {
		s.logger.Debug("context done, closing", "method", "ReadLoop", "attempt", at.id)
		s.finish(at, Termination{Reason: ReasonLocalClose})
	})
	defer stop()

	s.logger.Debug("read loop started", "method", "ReadLoop", "attempt", at.id)

	buf := make([]byte, s.cfg.ReadBufferSize())
	for {
		n, err := at.conn.Read(buf)
		if n > 0 {
			s.metrics.addByteRecvCount(n)
			s.feed(at, buf[:n])
		}

		if err != nil {
			return s.readFailed(at, err)
		}
	}
}

// feed passes one chunk through the reassembler and decoder.
func (s *Session) feed(at *attempt, chunk []byte) {
	for l, err := range at.reassembler.Feed(chunk) {
		if at.finished.Load() {
			break
		}

		if err != nil {
			s.metrics.incLineTooLongCount()
			s.logger.Warn("dropped inbound line", "method", "ReadLoop", "error", err)
			for _, h := range s.lineErrorHandlers() {
				h(err)
			}

			continue
		}

		ev := protocol.Decode(l.Data)
		s.metrics.incEventCount(ev.Kind())
		s.logger.Debug("line received", "seq", l.Seq, "kind", ev.Kind(), "line", ev.String())

		for _, h := range s.eventHandlerList() {
			h(l.Seq, ev)
		}
	}

	s.metrics.setPendingByteGauge(at.reassembler.Pending())
}

func (s *Session) readFailed(at *attempt, err error) error {
	if pending := at.reassembler.Pending(); pending > 0 {
		s.logger.Debug("discarding undelimited trailing bytes", "method", "ReadLoop", "pending", pending)
	}
	at.reassembler.Reset()
	s.metrics.setPendingByteGauge(0)

	switch {
	case at.finished.Load():
		// the socket was closed locally and the read error is its consequence
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.finish(at, Termination{Reason: ReasonPeerClosed})
	default:
		s.logger.Error("read failed", "method", "ReadLoop", "error", err)
		s.finish(at, Termination{Reason: ReasonIOError, Err: &IOError{Op: OpRead, Err: err}})
	}

	<-at.done
	if at.term.Failed() {
		return at.term.Err
	}

	return nil
}
