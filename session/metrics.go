package session

import (
	"sync/atomic"

	"github.com/arloliu/go-linebridge/protocol"
)

// Metrics contains atomic metrics for a session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// ConnectAttemptCount indicates the number of dials started.
	ConnectAttemptCount atomic.Uint64
	// ConnectFailCount indicates the number of dials that ended in a failure.
	ConnectFailCount atomic.Uint64

	// ByteRecvCount indicates the number of bytes read from the socket.
	ByteRecvCount atomic.Uint64
	// ChunkRecvCount indicates the number of non-empty reads.
	ChunkRecvCount atomic.Uint64
	// LineRecvCount indicates the number of complete lines decoded.
	LineRecvCount atomic.Uint64
	// CommandRecvCount indicates the number of command events.
	CommandRecvCount atomic.Uint64
	// TelemetryRecvCount indicates the number of telemetry events.
	TelemetryRecvCount atomic.Uint64
	// UnrecognizedRecvCount indicates the number of unrecognized lines.
	UnrecognizedRecvCount atomic.Uint64
	// LineTooLongCount indicates the number of lines dropped for exceeding the length cap.
	LineTooLongCount atomic.Uint64
	// PendingByteGauge indicates the undelimited bytes buffered after the last read.
	PendingByteGauge atomic.Int64

	// ByteSendCount indicates the number of bytes written to the socket.
	ByteSendCount atomic.Uint64
	// LineSendCount indicates the number of lines fully written.
	LineSendCount atomic.Uint64
	// SendErrCount indicates the number of failed sends.
	SendErrCount atomic.Uint64
}

func (m *Metrics) incConnectAttemptCount() {
	m.ConnectAttemptCount.Add(1)
}

func (m *Metrics) incConnectFailCount() {
	m.ConnectFailCount.Add(1)
}

func (m *Metrics) addByteRecvCount(n int) {
	m.ByteRecvCount.Add(uint64(n)) //nolint:gosec
	m.ChunkRecvCount.Add(1)
}

func (m *Metrics) incEventCount(kind protocol.Kind) {
	m.LineRecvCount.Add(1)
	switch kind {
	case protocol.KindCommand:
		m.CommandRecvCount.Add(1)
	case protocol.KindTelemetry:
		m.TelemetryRecvCount.Add(1)
	default:
		m.UnrecognizedRecvCount.Add(1)
	}
}

func (m *Metrics) incLineTooLongCount() {
	m.LineTooLongCount.Add(1)
}

func (m *Metrics) setPendingByteGauge(n int) {
	m.PendingByteGauge.Store(int64(n))
}

func (m *Metrics) addByteSendCount(n int) {
	m.ByteSendCount.Add(uint64(n)) //nolint:gosec
}

func (m *Metrics) incLineSendCount() {
	m.LineSendCount.Add(1)
}

func (m *Metrics) incSendErrCount() {
	m.SendErrCount.Add(1)
}
