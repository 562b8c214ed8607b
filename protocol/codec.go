package protocol

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	xunicode "golang.org/x/text/encoding/unicode"
)

const (
	// Delimiter terminates every line on the wire.
	Delimiter byte = '\n'

	// ReplacementChar substitutes every byte sequence that is not valid UTF-8.
	ReplacementChar = "\uFFFD"

	commandPrefix = "cmd:"
	telemetrySep  = ": "
)

// Decode classifies one line, delimiter already stripped, into an Event.
//
// Decode never fails: undecodable bytes become ReplacementChar, and anything that is
// neither a command nor a well-formed telemetry reading becomes Unrecognized.
func Decode(line []byte) Event {
	return DecodeString(DecodeText(line))
}

// DecodeString classifies an already decoded line. See Decode.
func DecodeString(text string) Event {
	text = strings.TrimSpace(text)

	if name, ok := strings.CutPrefix(text, commandPrefix); ok {
		return Command{Name: strings.TrimSpace(name)}
	}

	if tm, ok := parseTelemetry(text); ok {
		return tm
	}

	return Unrecognized{Raw: text}
}

// DecodeText converts raw line bytes to a string, replacing invalid UTF-8 with ReplacementChar.
func DecodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	out, err := xunicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), ReplacementChar)
	}

	return string(out)
}

// parseTelemetry matches "<token>:<spaces or tabs><integer>".
func parseTelemetry(text string) (Telemetry, bool) {
	tag, rest, found := strings.Cut(text, ":")
	if !found || tag == "" || strings.ContainsFunc(tag, unicode.IsSpace) {
		return Telemetry{}, false
	}

	value := strings.TrimLeft(rest, " \t")
	if len(value) == len(rest) || value == "" {
		return Telemetry{}, false
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return Telemetry{}, false
	}

	return Telemetry{Tag: tag, Value: n}, true
}

// Encode renders ev as a wire line, delimiter included.
//
// For every event produced by Decode, Decode(Encode(ev)) equals ev.
func Encode(ev Event) []byte {
	s := ev.String()
	buf := make([]byte, 0, len(s)+1)
	buf = append(buf, s...)

	return append(buf, Delimiter)
}

// EnsureDelimiter returns b terminated by Delimiter, appending one only when absent.
// b itself is never modified.
func EnsureDelimiter(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == Delimiter {
		return b
	}

	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)

	return append(buf, Delimiter)
}
