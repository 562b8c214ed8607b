// Package dispatch routes decoded device events to application handlers.
//
// A Router plugs into session.Session.AddEventHandler and fans events out by
// command name or telemetry tag. Handlers can be registered and removed while
// events are flowing.
package dispatch

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-linebridge/logger"
	"github.com/arloliu/go-linebridge/protocol"
)

// CommandHandler handles a command event.
type CommandHandler func(seq uint64, cmd protocol.Command)

// TelemetryHandler handles a telemetry event.
type TelemetryHandler func(seq uint64, t protocol.Telemetry)

// UnrecognizedHandler handles a line that matched no known shape.
type UnrecognizedHandler func(seq uint64, u protocol.Unrecognized)

// Router dispatches events to handlers registered by command name or telemetry tag.
// It is safe for concurrent use.
type Router struct {
	commands     *xsync.MapOf[string, CommandHandler]
	telemetry    *xsync.MapOf[string, TelemetryHandler]
	unrecognized atomic.Pointer[UnrecognizedHandler]

	routed   *xsync.Counter
	unrouted *xsync.MapOf[string, int64]

	logger logger.Logger
}

// NewRouter creates an empty Router. A nil logger selects the package default.
func NewRouter(l logger.Logger) *Router {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Router{
		commands:  xsync.NewMapOf[string, CommandHandler](),
		telemetry: xsync.NewMapOf[string, TelemetryHandler](),
		routed:    xsync.NewCounter(),
		unrouted:  xsync.NewMapOf[string, int64](),
		logger:    l,
	}
}

// OnCommand registers fn for the command name, replacing any previous handler.
// A nil fn removes the registration.
func (r *Router) OnCommand(name string, fn CommandHandler) {
	if fn == nil {
		r.commands.Delete(name)
		return
	}
	r.commands.Store(name, fn)
}

// OnTelemetry registers fn for the telemetry tag, replacing any previous handler.
// A nil fn removes the registration.
func (r *Router) OnTelemetry(tag string, fn TelemetryHandler) {
	if fn == nil {
		r.telemetry.Delete(tag)
		return
	}
	r.telemetry.Store(tag, fn)
}

// OnUnrecognized registers the handler for unrecognized lines. A nil fn removes it.
func (r *Router) OnUnrecognized(fn UnrecognizedHandler) {
	if fn == nil {
		r.unrecognized.Store(nil)
		return
	}
	r.unrecognized.Store(&fn)
}

// Handle routes ev to its handler. Its signature matches session.EventHandler.
func (r *Router) Handle(seq uint64, ev protocol.Event) {
	r.Route(seq, ev)
}

// Route routes ev to its handler and reports whether one was found.
func (r *Router) Route(seq uint64, ev protocol.Event) bool {
	switch e := ev.(type) {
	case protocol.Command:
		if fn, ok := r.commands.Load(e.Name); ok {
			fn(seq, e)
			r.routed.Inc()

			return true
		}
		r.countUnrouted("cmd:" + e.Name)

	case protocol.Telemetry:
		if fn, ok := r.telemetry.Load(e.Tag); ok {
			fn(seq, e)
			r.routed.Inc()

			return true
		}
		r.countUnrouted(e.Tag + ":")

	case protocol.Unrecognized:
		if fn := r.unrecognized.Load(); fn != nil {
			(*fn)(seq, e)
			r.routed.Inc()

			return true
		}
		r.countUnrouted("")
	}

	r.logger.Debug("unrouted event", "method", "Route", "seq", seq, "kind", ev.Kind(), "event", ev.String())

	return false
}

func (r *Router) countUnrouted(key string) {
	r.unrouted.Compute(key, func(old int64, _ bool) (int64, bool) {
		return old + 1, false
	})
}

// Routed returns the number of events delivered to a handler.
func (r *Router) Routed() int64 { return r.routed.Value() }

// Unrouted returns the number of events without a handler, keyed by "cmd:<name>"
// for commands, "<tag>:" for telemetry and "" for unrecognized lines.
func (r *Router) Unrouted() map[string]int64 {
	out := make(map[string]int64, r.unrouted.Size())
	r.unrouted.Range(func(key string, n int64) bool {
		out[key] = n
		return true
	})

	return out
}

// VolumeHandler adapts fn to receive telemetry readings as a ratio of full scale,
// clamped to [0, 1].
func VolumeHandler(fullScale int64, fn func(seq uint64, ratio float64)) TelemetryHandler {
	return func(seq uint64, t protocol.Telemetry) {
		fn(seq, t.Ratio(fullScale))
	}
}
