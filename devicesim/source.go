package devicesim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/arloliu/go-linebridge/internal/util"
	"github.com/arloliu/go-linebridge/line"
	"github.com/arloliu/go-linebridge/logger"
	"github.com/arloliu/go-linebridge/protocol"
)

var defaultScript = []string{
	"cmd:next",
	"VR: 1234",
	"cmd:pause",
	"VR: 100",
	"cmd:play",
	"cmd:previous",
	"VR: 4095",
}

// DefaultScript returns the demo script of the reference device: every command
// once, interleaved with volume readings.
func DefaultScript() []string {
	return util.CloneSlice(defaultScript, 0)
}

// Source replays a script of lines over a writer or a single TCP connection.
type Source struct {
	lines  []string
	policy Policy
	clock  Clock
	echo   bool
	logger logger.Logger
}

// Option configures a Source.
type Option interface {
	apply(*Source)
}

type optFunc func(*Source)

func (f optFunc) apply(s *Source) { f(s) }

// WithClock sets the clock used for pacing. Defaults to RealClock.
func WithClock(c Clock) Option {
	return optFunc(func(s *Source) {
		if c != nil {
			s.clock = c
		}
	})
}

// WithEcho makes Serve write back every complete line the peer sends.
func WithEcho() Option {
	return optFunc(func(s *Source) { s.echo = true })
}

// WithLogger sets the logger. Defaults to the package default logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Source) {
		if l != nil {
			s.logger = l
		}
	})
}

// NewSource creates a Source for lines.
func NewSource(lines []string, policy Policy, opts ...Option) (*Source, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	s := &Source{
		lines:  util.CloneSlice(lines, 0),
		policy: policy,
		clock:  RealClock{},
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt.apply(s)
	}

	return s, nil
}

// Policy returns the fragmentation policy.
func (s *Source) Policy() Policy { return s.policy }

// Fragments returns the writes Stream performs, in order.
func (s *Source) Fragments() [][]byte { return s.policy.Fragments(s.lines) }

// Stream writes every fragment to w in order, pacing with the clock.
func (s *Source) Stream(ctx context.Context, w io.Writer) error {
	return s.stream(ctx, w, nil)
}

// stream holds mu, when given, for the duration of each line so that echoed
// lines never land inside a scripted one.
func (s *Source) stream(ctx context.Context, w io.Writer, mu *sync.Mutex) error {
	for i, frags := range s.policy.split(s.lines) {
		if i > 0 {
			if err := s.clock.Sleep(ctx, s.policy.LineDelay); err != nil {
				return err
			}
		}

		if err := s.writeLine(ctx, w, frags, mu); err != nil {
			return fmt.Errorf("devicesim: line %d: %w", i+1, err)
		}
	}

	s.logger.Debug("script finished", "method", "Stream", "lines", len(s.lines))

	return nil
}

func (s *Source) writeLine(ctx context.Context, w io.Writer, frags [][]byte, mu *sync.Mutex) error {
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}

	for j, frag := range frags {
		if j > 0 && len(frag) > 0 {
			if err := s.clock.Sleep(ctx, s.policy.Delay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := w.Write(frag); err != nil {
			return err
		}
	}

	return nil
}

// Serve accepts one connection from ln, streams the script to it and closes it.
//
// With WithEcho, complete lines received from the peer are written back until the
// peer closes its side. Without it, Serve half-closes its write side when the script
// ends and drains the peer until EOF. ctx cancellation closes the listener and the
// connection.
func (s *Source) Serve(ctx context.Context, ln net.Listener) error {
	stopLn := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stopLn()

	conn, err := ln.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		return err
	}
	defer conn.Close()

	stopConn := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopConn()

	s.logger.Debug("peer accepted", "method", "Serve", "remote_addr", conn.RemoteAddr().String())

	var mu sync.Mutex
	readDone := make(chan error, 1)
	go func() {
		if s.echo {
			readDone <- s.echoLines(conn, &mu)
		} else {
			_, err := io.Copy(io.Discard, conn)
			readDone <- err
		}
	}()

	if err := s.stream(ctx, conn, &mu); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		return err
	}

	if !s.echo {
		closeWrite(conn)
	}

	select {
	case err := <-readDone:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// echoLines writes back every complete line read from conn until EOF.
func (s *Source) echoLines(conn net.Conn, mu *sync.Mutex) error {
	r, err := line.New()
	if err != nil {
		return err
	}

	buf := make([]byte, 1024)
	for {
		n, readErr := conn.Read(buf)
		for l, lineErr := range r.Feed(buf[:n]) {
			if lineErr != nil {
				s.logger.Warn("echo dropped line", "method", "Serve", "error", lineErr)
				continue
			}

			mu.Lock()
			_, werr := conn.Write(protocol.EnsureDelimiter(l.Data))
			mu.Unlock()
			if werr != nil {
				return werr
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}

			return readErr
		}
	}
}

type closeWriter interface {
	CloseWrite() error
}

func closeWrite(conn net.Conn) {
	if cw, ok := conn.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}
