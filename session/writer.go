package session

import (
	"io"
	"time"

	"github.com/arloliu/go-linebridge/protocol"
)

// Send writes one line to the device, appending the delimiter if b lacks it.
//
// It returns ErrNotConnected unless the session is connected. Concurrent calls are
// serialized and each line is written completely before the next one starts. A write
// failure moves the session to FailedState and is returned as an *IOError.
func (s *Session) Send(b []byte) error {
	at, ok := s.connected()
	if !ok {
		return ErrNotConnected
	}

	data := protocol.EnsureDelimiter(b)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if d := s.cfg.WriteTimeout(); d > 0 {
		if err := at.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
			return s.writeFailed(at, err)
		}
	}

	n, err := writeAll(at.conn, data)
	s.metrics.addByteSendCount(n)
	if err != nil {
		return s.writeFailed(at, err)
	}
	s.metrics.incLineSendCount()

	return nil
}

// SendEvent encodes ev and sends it.
func (s *Session) SendEvent(ev protocol.Event) error {
	return s.Send(protocol.Encode(ev))
}

func (s *Session) writeFailed(at *attempt, err error) error {
	s.metrics.incSendErrCount()

	if at.finished.Load() {
		return ErrNotConnected
	}

	ioErr := &IOError{Op: OpWrite, Err: err}
	s.logger.Error("write failed", "method", "Send", "error", err)
	if !s.finish(at, Termination{Reason: ReasonIOError, Err: ioErr}) {
		return ErrNotConnected
	}

	return ioErr
}

// writeAll writes all bytes in data to w and returns how many were written.
func writeAll(w io.Writer, data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := w.Write(data[written:])
		written += n

		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}

	return written, nil
}
