package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-linebridge/devicesim"
	"github.com/arloliu/go-linebridge/line"
	"github.com/arloliu/go-linebridge/logger"
	"github.com/arloliu/go-linebridge/protocol"
)

const testHost = "127.0.0.1"

var scenarioEvents = []protocol.Event{
	protocol.Command{Name: protocol.CommandNext},
	protocol.Telemetry{Tag: protocol.TagVolume, Value: 1234},
	protocol.Command{Name: protocol.CommandPause},
	protocol.Telemetry{Tag: protocol.TagVolume, Value: 100},
	protocol.Command{Name: protocol.CommandPlay},
	protocol.Command{Name: protocol.CommandPrevious},
	protocol.Telemetry{Tag: protocol.TagVolume, Value: protocol.ADCMax},
}

type recorder struct {
	mu     sync.Mutex
	seqs   []uint64
	events []protocol.Event
	terms  []Termination
	errs   []error
}

func (r *recorder) onEvent(seq uint64, ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, seq)
	r.events = append(r.events, ev)
}

func (r *recorder) onTermination(term Termination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terms = append(r.terms, term)
}

func (r *recorder) onLineError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) Events() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]protocol.Event(nil), r.events...)
}

func (r *recorder) Seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]uint64(nil), r.seqs...)
}

func (r *recorder) Terms() []Termination {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Termination(nil), r.terms...)
}

func (r *recorder) LineErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]error(nil), r.errs...)
}

func newTestSession(t *testing.T, port int, opts ...ConnOption) (*Session, *recorder) {
	t.Helper()

	opts = append([]ConnOption{WithConnectTimeout(2 * time.Second), WithCloseTimeout(2 * time.Second)}, opts...)
	cfg, err := NewConfig(testHost, port, opts...)
	require.NoError(t, err)

	s, err := NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rec := &recorder{}
	s.AddEventHandler(rec.onEvent)
	s.AddTerminationHandler(rec.onTermination)
	s.AddLineErrorHandler(rec.onLineError)

	return s, rec
}

// startSource serves src on a loopback listener and returns its port.
func startSource(t *testing.T, src *devicesim.Source) (int, <-chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", testHost+":0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	served := make(chan error, 1)
	go func() { served <- src.Serve(ctx, ln) }()

	return ln.Addr().(*net.TCPAddr).Port, served //nolint:forcetypeassert
}

// startRawServer accepts one connection and hands it to handle.
func startRawServer(t *testing.T, handle func(conn net.Conn)) int {
	t.Helper()

	ln, err := net.Listen("tcp", testHost+":0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	return ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert
}

func newSource(t *testing.T, lines []string, policy devicesim.Policy, opts ...devicesim.Option) *devicesim.Source {
	t.Helper()

	opts = append([]devicesim.Option{devicesim.WithClock(devicesim.NewVirtualClock())}, opts...)
	src, err := devicesim.NewSource(lines, policy, opts...)
	require.NoError(t, err)

	return src
}

// startReadLoop runs ReadLoop in the background and returns once it is reading.
func startReadLoop(ctx context.Context, t *testing.T, s *Session) <-chan error {
	t.Helper()

	loopDone := make(chan error, 1)
	go func() { loopDone <- s.ReadLoop(ctx) }()

	require.Eventually(t, func() bool {
		at := s.cur.Load()
		return at != nil && at.reading.Load()
	}, 3*time.Second, 5*time.Millisecond)

	return loopDone
}

func runCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func TestSession_Scenario(t *testing.T) {
	policies := map[string]devicesim.Policy{
		"firmware one byte crlf":    devicesim.FirmwarePolicy(),
		"one byte with empty":       {ChunkSize: 1, EmptyWrites: true},
		"three byte chunks":         {ChunkSize: 3},
		"one write per line":        {},
		"one byte tiny read buffer": {ChunkSize: 1, EmptyWrites: true},
	}

	for name, policy := range policies {
		t.Run(name, func(t *testing.T) {
			port, served := startSource(t, newSource(t, devicesim.DefaultScript(), policy))

			var opts []ConnOption
			if name == "one byte tiny read buffer" {
				opts = append(opts, WithReadBufferSize(1))
			}
			s, rec := newTestSession(t, port, opts...)

			require.NoError(t, s.Run(runCtx(t)))

			assert.Equal(t, scenarioEvents, rec.Events())
			assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7}, rec.Seqs())
			assert.Equal(t, []Termination{{Reason: ReasonPeerClosed}}, rec.Terms())
			assert.Equal(t, DisconnectedState, s.State())

			term, ok := s.Termination()
			require.True(t, ok)
			assert.Equal(t, ReasonPeerClosed, term.Reason)

			m := s.Metrics()
			assert.Equal(t, uint64(7), m.LineRecvCount.Load())
			assert.Equal(t, uint64(4), m.CommandRecvCount.Load())
			assert.Equal(t, uint64(3), m.TelemetryRecvCount.Load())
			assert.Zero(t, m.UnrecognizedRecvCount.Load())
			assert.Equal(t, uint64(1), m.ConnectAttemptCount.Load())

			require.NoError(t, <-served)
		})
	}
}

func TestSession_StateChanges(t *testing.T) {
	port, _ := startSource(t, newSource(t, []string{"cmd:next"}, devicesim.Policy{}))
	s, _ := newTestSession(t, port)

	var mu sync.Mutex
	var changes [][2]State
	s.AddStateChangeHandler(func(prev State, cur State) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, [2]State{prev, cur})
	})

	require.NoError(t, s.Run(runCtx(t)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][2]State{
		{DisconnectedState, ConnectingState},
		{ConnectingState, ConnectedState},
		{ConnectedState, ClosingState},
		{ClosingState, DisconnectedState},
	}, changes)
}

func TestSession_UnrecognizedLinesKeepStream(t *testing.T) {
	lines := []string{"cmd:next", "VR: abc", "", "HELLO", "VR: 5"}
	port, _ := startSource(t, newSource(t, lines, devicesim.Policy{ChunkSize: 2}))
	s, rec := newTestSession(t, port)

	require.NoError(t, s.Run(runCtx(t)))

	assert.Equal(t, []protocol.Event{
		protocol.Command{Name: protocol.CommandNext},
		protocol.Unrecognized{Raw: "VR: abc"},
		protocol.Unrecognized{Raw: ""},
		protocol.Unrecognized{Raw: "HELLO"},
		protocol.Telemetry{Tag: protocol.TagVolume, Value: 5},
	}, rec.Events())
	assert.Equal(t, uint64(3), s.Metrics().UnrecognizedRecvCount.Load())
}

func TestSession_EOFDiscardsPartialLine(t *testing.T) {
	port := startRawServer(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("cmd:next\nVR: 12"))
	})
	s, rec := newTestSession(t, port)

	require.NoError(t, s.Run(runCtx(t)))

	assert.Equal(t, []protocol.Event{protocol.Command{Name: protocol.CommandNext}}, rec.Events())
	assert.Equal(t, []Termination{{Reason: ReasonPeerClosed}}, rec.Terms())
	assert.Zero(t, s.Metrics().PendingByteGauge.Load())
}

// lockedBuffer collects log output written from the read loop goroutine.
type lockedBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.sb.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.sb.String()
}

func TestSession_LogsNamesNotNumbers(t *testing.T) {
	port := startRawServer(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("cmd:next\n"))
	})

	var out lockedBuffer
	s, _ := newTestSession(t, port, WithLogger(logger.NewSlogWriter(&out, logger.DebugLevel, false)))

	require.NoError(t, s.Run(runCtx(t)))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "peer_closed")
	}, 2*time.Second, 10*time.Millisecond)

	logs := out.String()
	assert.Contains(t, logs, "command")
	assert.NotContains(t, logs, `"reason":2`)
	assert.NotContains(t, logs, `"kind":1`)
}

func TestSession_LineTooLongResyncs(t *testing.T) {
	port := startRawServer(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("cmd:next\n" + strings.Repeat("x", 20) + "\nVR: 7\n"))
	})
	s, rec := newTestSession(t, port, WithMaxLineLength(8), WithReadBufferSize(4))

	require.NoError(t, s.Run(runCtx(t)))

	assert.Equal(t, []protocol.Event{
		protocol.Command{Name: protocol.CommandNext},
		protocol.Telemetry{Tag: protocol.TagVolume, Value: 7},
	}, rec.Events())
	assert.Equal(t, []uint64{1, 3}, rec.Seqs())

	errs := rec.LineErrors()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], line.ErrLineTooLong)
	assert.Equal(t, uint64(1), s.Metrics().LineTooLongCount.Load())
}

func TestSession_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", testHost+":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert
	require.NoError(t, ln.Close())

	s, rec := newTestSession(t, port)

	for attempt := 1; attempt <= 2; attempt++ {
		err = s.Connect(context.Background())
		require.ErrorIs(t, err, ErrConnectRefused)

		var connErr *ConnectError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, s.Config().Addr(), connErr.Addr)

		assert.Equal(t, FailedState, s.State())
		assert.Equal(t, uint64(attempt), s.Metrics().ConnectFailCount.Load())
	}

	terms := rec.Terms()
	require.Len(t, terms, 2)
	for _, term := range terms {
		assert.Equal(t, ReasonRefused, term.Reason)
		assert.ErrorIs(t, term.Err, ErrConnectRefused)
	}

	require.ErrorIs(t, s.Send([]byte("cmd:next")), ErrNotConnected)
	require.ErrorIs(t, s.ReadLoop(context.Background()), ErrNotConnected)
}

func blockingDial(ctx context.Context, network string, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, &net.OpError{Op: "dial", Net: network, Err: ctx.Err()}
}

func TestSession_ConnectTimeout(t *testing.T) {
	s, rec := newTestSession(t, 5000, WithConnectTimeout(50*time.Millisecond))
	s.dial = blockingDial

	start := time.Now()
	err := s.Connect(context.Background())
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrConnectTimeout)
	assert.NotErrorIs(t, err, ErrConnectRefused)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, FailedState, s.State())
	assert.Equal(t, []Termination{{Reason: ReasonTimeout, Err: err}}, rec.Terms())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done must be closed after a failed attempt")
	}
}

func TestSession_ConnectOtherDialError(t *testing.T) {
	s, _ := newTestSession(t, 5000)
	dialErr := errors.New("network is unreachable")
	s.dial = func(context.Context, string, string) (net.Conn, error) { return nil, dialErr }

	err := s.Connect(context.Background())

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, OpConnect, ioErr.Op)
	require.ErrorIs(t, err, dialErr)
	assert.Equal(t, FailedState, s.State())
}

func TestSession_ConnectUnresolvedHost(t *testing.T) {
	cfg, err := NewConfig("device-not-yet-up.invalid", 5000, WithConnectTimeout(time.Second))
	require.NoError(t, err)
	s, err := NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	notFound := &net.DNSError{Err: "no such host", Name: "device-not-yet-up.invalid", IsNotFound: true}
	s.dial = func(context.Context, string, string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: notFound}
	}

	err = s.Connect(context.Background())

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, OpConnect, ioErr.Op)
	var dnsErr *net.DNSError
	require.ErrorAs(t, err, &dnsErr)
	assert.Equal(t, FailedState, s.State())

	term, ok := s.Termination()
	require.True(t, ok)
	assert.Equal(t, ReasonIOError, term.Reason)

	// the next attempt may resolve once the device is up
	s.dial = func(context.Context, string, string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "i/o timeout", Name: "device-not-yet-up.invalid", IsTimeout: true}}
	}
	err = s.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectTimeout)
	assert.Equal(t, FailedState, s.State())
}

func TestSession_ConnectCallerCanceled(t *testing.T) {
	s, rec := newTestSession(t, 5000)
	s.dial = blockingDial

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := s.Connect(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, DisconnectedState, s.State())
	assert.Equal(t, []Termination{{Reason: ReasonLocalClose}}, rec.Terms())
}

func TestSession_CloseDuringConnect(t *testing.T) {
	s, rec := newTestSession(t, 5000)
	s.dial = blockingDial

	connected := make(chan error, 1)
	go func() { connected <- s.Connect(context.Background()) }()

	require.NoError(t, s.WaitState(runCtx(t), ConnectingState))
	require.NoError(t, s.Close())

	require.ErrorIs(t, <-connected, ErrSessionClosed)
	assert.Equal(t, DisconnectedState, s.State())
	assert.Equal(t, []Termination{{Reason: ReasonLocalClose}}, rec.Terms())
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	port, served := startSource(t, newSource(t, nil, devicesim.Policy{}, devicesim.WithEcho()))
	s, rec := newTestSession(t, port)

	ctx := runCtx(t)
	require.NoError(t, s.Connect(ctx))
	loopDone := startReadLoop(ctx, t, s)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Close())
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	require.NoError(t, <-loopDone)
	assert.Equal(t, DisconnectedState, s.State())
	assert.Equal(t, []Termination{{Reason: ReasonLocalClose}}, rec.Terms(), "terminal status is emitted once")
	require.NoError(t, <-served)
}

func TestSession_CloseFromEventHandler(t *testing.T) {
	port, _ := startSource(t, newSource(t, devicesim.DefaultScript(), devicesim.Policy{}))
	s, rec := newTestSession(t, port)
	s.AddEventHandler(func(seq uint64, _ protocol.Event) {
		if seq == 2 {
			assert.NoError(t, s.Close())
		}
	})

	require.NoError(t, s.Run(runCtx(t)))

	assert.Len(t, rec.Events(), 2, "no events after close")
	assert.Equal(t, []Termination{{Reason: ReasonLocalClose}}, rec.Terms())
}

func TestSession_ContextCancelStopsReadLoop(t *testing.T) {
	port, _ := startSource(t, newSource(t, nil, devicesim.Policy{}, devicesim.WithEcho()))
	s, rec := newTestSession(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan error, 1)
	go func() { loopDone <- s.Run(ctx) }()

	require.NoError(t, s.WaitState(runCtx(t), ConnectedState))
	cancel()

	select {
	case err := <-loopDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("read loop did not stop after cancel")
	}
	assert.Equal(t, DisconnectedState, s.State())
	assert.Equal(t, []Termination{{Reason: ReasonLocalClose}}, rec.Terms())
}

func TestSession_SendEchoRoundTrip(t *testing.T) {
	port, served := startSource(t, newSource(t, nil, devicesim.Policy{}, devicesim.WithEcho()))
	s, rec := newTestSession(t, port)

	ctx := runCtx(t)
	require.NoError(t, s.Connect(ctx))
	loopDone := startReadLoop(ctx, t, s)

	require.NoError(t, s.Send([]byte("cmd:play")))
	require.NoError(t, s.Send([]byte("VR: 42\n")))
	require.NoError(t, s.SendEvent(protocol.Command{Name: protocol.CommandPause}))

	want := []protocol.Event{
		protocol.Command{Name: protocol.CommandPlay},
		protocol.Telemetry{Tag: protocol.TagVolume, Value: 42},
		protocol.Command{Name: protocol.CommandPause},
	}
	require.Eventually(t, func() bool { return len(rec.Events()) == len(want) }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, rec.Events())

	m := s.Metrics()
	assert.Equal(t, uint64(3), m.LineSendCount.Load())
	assert.Equal(t, uint64(len("cmd:play\nVR: 42\ncmd:pause\n")), m.ByteSendCount.Load())

	require.NoError(t, s.Close())
	require.NoError(t, <-loopDone)
	require.NoError(t, <-served)
}

func TestSession_ConcurrentSendKeepsLinesIntact(t *testing.T) {
	const senders, perSender = 8, 25

	received := make(chan []string, 1)
	port := startRawServer(t, func(conn net.Conn) {
		var lines []string
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		received <- lines
	})
	s, _ := newTestSession(t, port)
	require.NoError(t, s.Connect(runCtx(t)))

	var wg sync.WaitGroup
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range perSender {
				assert.NoError(t, s.Send([]byte(fmt.Sprintf("sender-%d-line-%d-%s", i, j, strings.Repeat("z", 64)))))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	lines := <-received
	require.Len(t, lines, senders*perSender)

	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		var i, j int
		_, err := fmt.Sscanf(l, "sender-%d-line-%d-", &i, &j)
		require.NoError(t, err, "mangled line %q", l)
		assert.True(t, strings.HasSuffix(l, strings.Repeat("z", 64)), "mangled line %q", l)
		seen[l] = true
	}
	assert.Len(t, seen, senders*perSender)
}

func TestSession_SendNotConnected(t *testing.T) {
	s, _ := newTestSession(t, 5000)

	require.ErrorIs(t, s.Send([]byte("cmd:next")), ErrNotConnected)
	require.ErrorIs(t, s.SendEvent(protocol.Command{Name: protocol.CommandNext}), ErrNotConnected)
	require.NoError(t, s.Close(), "close before connect is a no-op")

	_, ok := s.Termination()
	assert.False(t, ok)
}

func TestSession_ReadLoopRunsOnce(t *testing.T) {
	port, _ := startSource(t, newSource(t, nil, devicesim.Policy{}, devicesim.WithEcho()))
	s, _ := newTestSession(t, port)

	ctx := runCtx(t)
	require.NoError(t, s.Connect(ctx))
	loopDone := startReadLoop(ctx, t, s)

	require.ErrorIs(t, s.ReadLoop(ctx), ErrReadLoopRunning)

	err := s.Connect(ctx)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.Close())
	require.NoError(t, <-loopDone)
}

func TestSession_Reconnect(t *testing.T) {
	ln, err := net.Listen("tcp", testHost+":0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	port := ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert

	var accepted atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := accepted.Add(1)
			_, _ = fmt.Fprintf(conn, "VR: %d\n", n)
			_ = conn.Close()
		}
	}()

	s, rec := newTestSession(t, port)
	id := s.ID()

	for range 3 {
		require.NoError(t, s.Run(runCtx(t)))
		assert.Equal(t, DisconnectedState, s.State())
	}

	assert.Equal(t, id, s.ID())
	assert.Equal(t, []protocol.Event{
		protocol.Telemetry{Tag: protocol.TagVolume, Value: 1},
		protocol.Telemetry{Tag: protocol.TagVolume, Value: 2},
		protocol.Telemetry{Tag: protocol.TagVolume, Value: 3},
	}, rec.Events())
	assert.Equal(t, []uint64{1, 1, 1}, rec.Seqs(), "every attempt starts with a fresh line buffer")
	assert.Len(t, rec.Terms(), 3)
	assert.Equal(t, uint64(3), s.Metrics().ConnectAttemptCount.Load())
}

// faultyConn fails reads or writes on demand and otherwise behaves like the wrapped conn.
type faultyConn struct {
	net.Conn
	readErr  error
	writeErr error
}

func (c *faultyConn) Read(p []byte) (int, error) {
	if c.readErr != nil {
		return 0, c.readErr
	}

	return c.Conn.Read(p)
}

func (c *faultyConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}

	return c.Conn.Write(p)
}

func pipeDial(conn net.Conn) dialFunc {
	return func(context.Context, string, string) (net.Conn, error) { return conn, nil }
}

func TestSession_ReadError(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { _ = server.Close() })

	readErr := errors.New("connection reset by peer")
	s, rec := newTestSession(t, 5000)
	s.dial = pipeDial(&faultyConn{Conn: client, readErr: readErr})

	err := s.Run(runCtx(t))

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, OpRead, ioErr.Op)
	require.ErrorIs(t, err, readErr)
	assert.Equal(t, FailedState, s.State())

	terms := rec.Terms()
	require.Len(t, terms, 1)
	assert.Equal(t, ReasonIOError, terms[0].Reason)
}

func TestSession_WriteError(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { _ = server.Close() })

	writeErr := errors.New("broken pipe")
	s, rec := newTestSession(t, 5000)
	s.dial = pipeDial(&faultyConn{Conn: client, writeErr: writeErr})

	ctx := runCtx(t)
	require.NoError(t, s.Connect(ctx))
	loopDone := startReadLoop(ctx, t, s)

	err := s.Send([]byte("cmd:next"))
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, OpWrite, ioErr.Op)
	require.ErrorIs(t, err, writeErr)

	assert.Equal(t, FailedState, s.State())
	require.ErrorIs(t, <-loopDone, writeErr, "the read loop reports the failure that ended the attempt")
	require.ErrorIs(t, s.Send([]byte("cmd:next")), ErrNotConnected)
	assert.Equal(t, uint64(1), s.Metrics().SendErrCount.Load())
	assert.Len(t, rec.Terms(), 1)
}

func TestSession_PeerCloseOverPipe(t *testing.T) {
	client, server := net.Pipe()
	s, rec := newTestSession(t, 5000)
	s.dial = pipeDial(client)

	go func() {
		_, _ = io.WriteString(server, "cmd:play\n")
		_ = server.Close()
	}()

	require.NoError(t, s.Run(runCtx(t)))
	assert.Equal(t, []protocol.Event{protocol.Command{Name: protocol.CommandPlay}}, rec.Events())
	assert.Equal(t, []Termination{{Reason: ReasonPeerClosed}}, rec.Terms())
}

func TestWriteAll(t *testing.T) {
	w := &shortWriter{max: 3}
	n, err := writeAll(w, []byte("cmd:next\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "cmd:next\n", w.buf.String())
	assert.Greater(t, w.calls, 1)

	n, err = writeAll(&shortWriter{max: 0}, []byte("x"))
	require.ErrorIs(t, err, io.ErrShortWrite)
	assert.Zero(t, n)
}

type shortWriter struct {
	buf   strings.Builder
	max   int
	calls int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	w.calls++
	n := min(w.max, len(p))
	w.buf.Write(p[:n])

	return n, nil
}

func TestNewSession_NilConfig(t *testing.T) {
	_, err := NewSession(nil)
	require.ErrorIs(t, err, ErrConfigNil)
}
