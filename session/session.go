package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/arloliu/go-linebridge/internal/pool"
	"github.com/arloliu/go-linebridge/line"
	"github.com/arloliu/go-linebridge/logger"
	"github.com/arloliu/go-linebridge/protocol"
)

// EventHandler is invoked for every decoded line, in arrival order, on the read loop goroutine.
type EventHandler func(seq uint64, ev protocol.Event)

// LineErrorHandler is invoked on the read loop goroutine when a line is dropped.
// The error wraps line.ErrLineTooLong.
type LineErrorHandler func(err error)

type dialFunc func(ctx context.Context, network string, address string) (net.Conn, error)

// attempt holds the resources of one Connect call, from dial to termination.
type attempt struct {
	id          uint64
	conn        net.Conn // set once before ready is stored
	cancelDial  context.CancelFunc
	reassembler *line.Reassembler // owned by the read loop

	ready    atomic.Bool
	reading  atomic.Bool
	finished atomic.Bool

	done chan struct{}
	term Termination // written once before done is closed
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)

	return ch
}()

// Session manages one TCP connection to a line-oriented device.
//
// A Session is reusable: after an attempt ends in DisconnectedState or FailedState the
// consumer may call Connect again. It never retries on its own. All methods are safe for
// concurrent use; the read side is driven by exactly one ReadLoop per attempt.
type Session struct {
	id     string
	cfg    *Config
	logger logger.Logger
	dial   dialFunc

	stateMgr *StateMgr
	metrics  Metrics

	mu       sync.Mutex // serializes attempt lifecycle: entering Connecting, attaching and closing conn
	cur      atomic.Pointer[attempt]
	attempts uint64

	writeMu sync.Mutex

	handlerMu       sync.RWMutex
	eventHandlers   []EventHandler
	termHandlers    []TerminationHandler
	lineErrHandlers []LineErrorHandler
}

// NewSession creates a Session in DisconnectedState.
func NewSession(cfg *Config) (*Session, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	id := uuid.NewString()
	l := cfg.GetLogger().With("session_id", id, "remote", cfg.Addr())
	dialer := &net.Dialer{KeepAlive: cfg.KeepAlive()}

	s := &Session{
		id:       id,
		cfg:      cfg,
		logger:   l,
		dial:     dialer.DialContext,
		stateMgr: NewStateMgr(l),
	}

	return s, nil
}

// ID returns the unique id of the session, attached to every log record as session_id.
func (s *Session) ID() string { return s.id }

// Config returns the session configuration.
func (s *Session) Config() *Config { return s.cfg }

// State returns the current state.
func (s *Session) State() State { return s.stateMgr.State() }

// WaitState waits until the session reaches state or ctx is done.
func (s *Session) WaitState(ctx context.Context, state State) error {
	return s.stateMgr.WaitState(ctx, state)
}

// Metrics returns the session metrics.
func (s *Session) Metrics() *Metrics { return &s.metrics }

// Termination returns the terminal status of the latest attempt.
// ok is false if no attempt was made or the latest attempt is still running.
func (s *Session) Termination() (term Termination, ok bool) {
	at := s.cur.Load()
	if at == nil {
		return Termination{}, false
	}

	select {
	case <-at.done:
		return at.term, true
	default:
		return Termination{}, false
	}
}

// Done returns a channel closed when the latest attempt ends.
// Before the first Connect it returns a closed channel.
func (s *Session) Done() <-chan struct{} {
	at := s.cur.Load()
	if at == nil {
		return closedCh
	}

	return at.done
}

// AddEventHandler adds handlers invoked for every decoded line.
func (s *Session) AddEventHandler(handlers ...EventHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	for _, h := range handlers {
		if h != nil {
			s.eventHandlers = append(s.eventHandlers, h)
		}
	}
}

// AddStateChangeHandler adds handlers invoked on every state change.
//
// The handlers run while the session holds its lifecycle lock; they must not call Connect or Close.
func (s *Session) AddStateChangeHandler(handlers ...StateChangeHandler) {
	s.stateMgr.AddHandler(handlers...)
}

// AddTerminationHandler adds handlers invoked once per attempt when it ends.
func (s *Session) AddTerminationHandler(handlers ...TerminationHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	for _, h := range handlers {
		if h != nil {
			s.termHandlers = append(s.termHandlers, h)
		}
	}
}

// AddLineErrorHandler adds handlers invoked when an inbound line is dropped.
func (s *Session) AddLineErrorHandler(handlers ...LineErrorHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	for _, h := range handlers {
		if h != nil {
			s.lineErrHandlers = append(s.lineErrHandlers, h)
		}
	}
}

// Run connects and then runs the read loop on the calling goroutine until the attempt ends.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	return s.ReadLoop(ctx)
}

// Close ends the current attempt.
//
// It cancels a dial in flight, or closes the socket so that a blocked read returns, and
// waits up to the close timeout for the attempt to settle. Close is idempotent and may be
// called from any goroutine, including event and termination handlers.
func (s *Session) Close() error {
	at := s.cur.Load()
	if at == nil {
		return nil
	}

	if s.finish(at, Termination{Reason: ReasonLocalClose}) {
		s.logger.Debug("session closed", "method", "Close", "attempt", at.id)
	}

	timer := pool.GetTimer(s.cfg.CloseTimeout())
	defer pool.PutTimer(timer)

	select {
	case <-at.done:
		return nil
	case <-timer.C:
		s.logger.Warn("close timeout", "method", "Close", "attempt", at.id, "state", s.State())
		return ErrCloseTimeout
	}
}

// finish records term as the end of at and settles the state machine.
// Only the first call per attempt has any effect; it reports whether this call won.
func (s *Session) finish(at *attempt, term Termination) bool {
	if !at.finished.CompareAndSwap(false, true) {
		return false
	}
	at.cancelDial()

	s.mu.Lock()
	at.term = term
	if !term.Failed() && s.stateMgr.State() == ConnectedState {
		_ = s.stateMgr.To(ClosingState)
	}
	if at.conn != nil {
		if err := at.conn.Close(); err != nil {
			s.logger.Debug("failed to close connection", "method", "finish", "error", err)
		}
	}
	if err := s.stateMgr.To(term.State()); err != nil {
		s.logger.Warn("unexpected state on termination", "method", "finish", "reason", term.Reason, "error", err)
	}
	s.mu.Unlock()

	close(at.done)

	if term.Failed() {
		s.logger.Warn("attempt failed", "attempt", at.id, "reason", term.Reason, "error", term.Err)
	} else {
		s.logger.Info("attempt ended", "attempt", at.id, "reason", term.Reason)
	}

	for _, h := range s.terminationHandlers() {
		h(term)
	}

	return true
}

func (s *Session) terminationHandlers() []TerminationHandler {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()

	return s.termHandlers
}

func (s *Session) eventHandlerList() []EventHandler {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()

	return s.eventHandlers
}

func (s *Session) lineErrorHandlers() []LineErrorHandler {
	s.handlerMu.RLock()
	defer s.handlerMu.RUnlock()

	return s.lineErrHandlers
}

// connected returns the current attempt if it is connected and not yet finished.
func (s *Session) connected() (*attempt, bool) {
	at := s.cur.Load()
	if at == nil || !at.ready.Load() || at.finished.Load() {
		return nil, false
	}

	return at, true
}
