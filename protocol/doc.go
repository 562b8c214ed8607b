// Package protocol decodes and encodes the device's line protocol.
//
// The device mixes two kinds of lines on one stream, with no framing beyond the newline:
//
//	cmd:next        a command, produced by a button press
//	VR: 1234        a telemetry reading, here the 12-bit volume potentiometer
//
// Every line decodes to exactly one Event: a Command, a Telemetry reading, or an
// Unrecognized line passed through verbatim. Decoding never fails. Bytes that are not
// valid UTF-8 are replaced with U+FFFD, and a telemetry line whose value is not an
// integer degrades to Unrecognized, so one bad line never affects the next.
//
// # Separator tolerance
//
// A telemetry line is a tag token (no colon, no whitespace), a colon, one or more
// spaces or tabs, then a base-10 signed integer. "VR:1234" (no whitespace) is not
// telemetry. Encode always writes the canonical single-space form.
package protocol
