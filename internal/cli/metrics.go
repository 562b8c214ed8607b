package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-linebridge/dispatch"
	"github.com/arloliu/go-linebridge/logger"
	"github.com/arloliu/go-linebridge/session"
)

const metricsNamespace = "linebridge"

type funcMetric struct {
	name string
	help string
	fn   func() float64
}

func u64(v interface{ Load() uint64 }) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// sessionCollectors exposes the session counters and router statistics as prometheus
// collectors that read the atomic values at scrape time.
func sessionCollectors(s *session.Session, r *dispatch.Router) []prometheus.Collector {
	m := s.Metrics()
	labels := prometheus.Labels{"remote": s.Config().Addr()}

	counters := []funcMetric{
		{"connect_attempts_total", "Number of dials started.", u64(&m.ConnectAttemptCount)},
		{"connect_failures_total", "Number of dials that failed.", u64(&m.ConnectFailCount)},
		{"received_bytes_total", "Bytes read from the device.", u64(&m.ByteRecvCount)},
		{"received_chunks_total", "Non-empty socket reads.", u64(&m.ChunkRecvCount)},
		{"received_lines_total", "Complete lines decoded.", u64(&m.LineRecvCount)},
		{"received_commands_total", "Command events decoded.", u64(&m.CommandRecvCount)},
		{"received_telemetry_total", "Telemetry events decoded.", u64(&m.TelemetryRecvCount)},
		{"received_unrecognized_total", "Lines that matched no known shape.", u64(&m.UnrecognizedRecvCount)},
		{"dropped_lines_total", "Lines dropped for exceeding the length cap.", u64(&m.LineTooLongCount)},
		{"sent_bytes_total", "Bytes written to the device.", u64(&m.ByteSendCount)},
		{"sent_lines_total", "Lines written to the device.", u64(&m.LineSendCount)},
		{"send_errors_total", "Failed sends.", u64(&m.SendErrCount)},
		{"routed_events_total", "Events delivered to a route.", func() float64 { return float64(r.Routed()) }},
	}
	gauges := []funcMetric{
		{"pending_bytes", "Undelimited bytes buffered after the last read.", func() float64 { return float64(m.PendingByteGauge.Load()) }},
		{"session_state", "Current session state (0=disconnected, 1=connecting, 2=connected, 3=closing, 4=failed).", func() float64 { return float64(s.State()) }},
	}

	collectors := make([]prometheus.Collector, 0, len(counters)+len(gauges))
	for _, c := range counters {
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        c.name,
			Help:        c.help,
			ConstLabels: labels,
		}, c.fn))
	}
	for _, g := range gauges {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        g.name,
			Help:        g.help,
			ConstLabels: labels,
		}, g.fn))
	}

	return collectors
}

// serveMetrics serves the registry on ln until ctx is done.
func serveMetrics(ctx context.Context, ln net.Listener, path string, reg *prometheus.Registry, l logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	l.Info("serving metrics", "listen", ln.Addr().String(), "path", path)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
