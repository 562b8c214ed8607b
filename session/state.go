package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-linebridge/logger"
)

// State represents the lifecycle stage of a Session.
type State uint32

// Session states.
const (
	// DisconnectedState is the initial state and the state after an orderly close.
	DisconnectedState State = iota
	// ConnectingState indicates that a TCP dial is in flight.
	ConnectingState
	// ConnectedState indicates that the socket is established; reads and sends are allowed.
	ConnectedState
	// ClosingState indicates that the socket is being torn down after a local or peer close.
	ClosingState
	// FailedState indicates that the last attempt ended with a connect or I/O failure.
	FailedState
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	case ClosingState:
		return "closing"
	case FailedState:
		return "failed"
	default:
		return "unknown"
	}
}

// LogValue logs the state by name.
func (s State) LogValue() slog.Value { return slog.StringValue(s.String()) }

// IsTerminal returns true for the states that end a connection attempt.
func (s State) IsTerminal() bool { return s == DisconnectedState || s == FailedState }

// allowedTransitions lists, per target state, the states it may be entered from.
var allowedTransitions = map[State][]State{
	ConnectingState:   {DisconnectedState, FailedState},
	ConnectedState:    {ConnectingState},
	ClosingState:      {ConnectedState},
	DisconnectedState: {ClosingState, ConnectingState},
	FailedState:       {ConnectingState, ConnectedState},
}

// StateChangeHandler is invoked on every state change.
//
// Note: the handler is invoked in a blocking mode while the state manager holds its lock.
// Take care with long-running implementations, and do not call Connect or Close from it.
type StateChangeHandler func(prevState State, newState State)

// StateMgr manages the state of a Session.
//
// It validates transitions against the session state machine, notifies handlers and lets
// callers wait for a given state. It is safe for concurrent use.
type StateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

// NewStateMgr creates a StateMgr in DisconnectedState.
func NewStateMgr(l logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &StateMgr{logger: l}
	mgr.cond = sync.NewCond(&mgr.mu)
	mgr.state.Store(uint32(DisconnectedState))
	mgr.AddHandler(handlers...)

	return mgr
}

// State returns the current state.
func (mgr *StateMgr) State() State {
	return State(mgr.state.Load())
}

// AddHandler adds one or more StateChangeHandler functions to be invoked on state changes.
func (mgr *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			mgr.handlers = append(mgr.handlers, h)
		}
	}
}

// To transitions to newState.
//
// Transitioning to the current state is a no-op. It returns an error wrapping
// ErrInvalidTransition if the state machine does not allow the change.
func (mgr *StateMgr) To(newState State) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	curState := mgr.State()
	if curState == newState {
		return nil
	}

	if !canTransition(curState, newState) {
		mgr.logger.Debug("rejected state transition", "method", "To", "cur_state", curState, "new_state", newState)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, curState, newState)
	}

	mgr.state.Store(uint32(newState))
	mgr.cond.Broadcast()

	for _, handler := range mgr.handlers {
		handler(curState, newState)
	}

	return nil
}

// WaitState waits for the state to reach the specified state or until the context is done.
// It returns nil if the desired state is reached, or the context error otherwise.
func (mgr *StateMgr) WaitState(ctx context.Context, state State) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		mgr.cond.Broadcast()
	})
	defer stop()

	for mgr.State() != state {
		if err := ctx.Err(); err != nil {
			mgr.logger.Debug("wait state canceled", "cur_state", mgr.State(), "desired_state", state)
			return err
		}
		mgr.cond.Wait()
	}

	return nil
}

func canTransition(from State, to State) bool {
	for _, allowed := range allowedTransitions[to] {
		if allowed == from {
			return true
		}
	}

	return false
}
