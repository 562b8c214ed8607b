package protocol

import (
	"log/slog"
	"strconv"
)

// Known commands sent by the device firmware.
const (
	CommandNext     = "next"
	CommandPrevious = "previous"
	CommandPlay     = "play"
	CommandPause    = "pause"
)

// Known telemetry tags.
const (
	// TagVolume carries the raw reading of the volume potentiometer.
	TagVolume = "VR"

	// ADCMax is the full-scale value of the device's 12-bit ADC.
	ADCMax = 4095
)

// Kind identifies the variant of an Event.
type Kind uint8

const (
	KindUnrecognized Kind = iota
	KindCommand
	KindTelemetry
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindTelemetry:
		return "telemetry"
	case KindUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// LogValue logs the kind by name.
func (k Kind) LogValue() slog.Value { return slog.StringValue(k.String()) }

// Event is one decoded protocol line.
//
// The set of implementations is closed: Command, Telemetry and Unrecognized.
type Event interface {
	Kind() Kind
	String() string
	isEvent()
}

// Command is a "cmd:<name>" line.
type Command struct {
	Name string
}

// Telemetry is a "<tag>: <integer>" line.
type Telemetry struct {
	Tag   string
	Value int64
}

// Unrecognized is any other line, whitespace-trimmed.
type Unrecognized struct {
	Raw string
}

var (
	_ Event = Command{}
	_ Event = Telemetry{}
	_ Event = Unrecognized{}
)

func (Command) Kind() Kind      { return KindCommand }
func (Telemetry) Kind() Kind    { return KindTelemetry }
func (Unrecognized) Kind() Kind { return KindUnrecognized }

func (Command) isEvent()      {}
func (Telemetry) isEvent()    {}
func (Unrecognized) isEvent() {}

func (c Command) String() string {
	return commandPrefix + c.Name
}

func (t Telemetry) String() string {
	return t.Tag + telemetrySep + strconv.FormatInt(t.Value, 10)
}

func (u Unrecognized) String() string {
	return u.Raw
}

// Ratio maps the reading onto [0, 1] relative to fullScale, clamping out-of-range values.
// It returns 0 when fullScale is not positive.
//
// The host uses Telemetry{Tag: TagVolume}.Ratio(ADCMax) as the playback volume.
func (t Telemetry) Ratio(fullScale int64) float64 {
	if fullScale <= 0 || t.Value <= 0 {
		return 0
	}
	if t.Value >= fullScale {
		return 1
	}

	return float64(t.Value) / float64(fullScale)
}
