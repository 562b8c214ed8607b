package devicesim

import (
	"errors"
	"fmt"
	"time"
)

// Policy describes how a script is cut into fragments and paced.
type Policy struct {
	// ChunkSize is the number of bytes per fragment. Zero or less sends each line,
	// line ending included, as a single fragment.
	ChunkSize int
	// Delay is slept between two fragments of the same line.
	Delay time.Duration
	// LineDelay is slept between two lines.
	LineDelay time.Duration
	// EmptyWrites interleaves a zero-length write after every fragment.
	EmptyWrites bool
	// LineEnding terminates every line. Empty means "\n".
	LineEnding string
}

// FirmwarePolicy mimics the reference firmware: one byte at a time, 50ms apart,
// one second between lines, CRLF line endings.
func FirmwarePolicy() Policy {
	return Policy{
		ChunkSize:  1,
		Delay:      50 * time.Millisecond,
		LineDelay:  time.Second,
		LineEnding: "\r\n",
	}
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	if p.Delay < 0 || p.LineDelay < 0 {
		return fmt.Errorf("devicesim: negative delay in policy (delay=%v, line_delay=%v)", p.Delay, p.LineDelay)
	}
	if p.LineEnding != "" && p.LineEnding[len(p.LineEnding)-1] != '\n' {
		return errors.New("devicesim: line ending must end with \\n")
	}

	return nil
}

func (p Policy) lineEnding() string {
	if p.LineEnding == "" {
		return "\n"
	}

	return p.LineEnding
}

// Fragments returns the exact sequence of writes the policy produces for lines.
// Concatenating the fragments yields every line followed by the line ending.
func (p Policy) Fragments(lines []string) [][]byte {
	var out [][]byte
	for _, frags := range p.split(lines) {
		out = append(out, frags...)
	}

	return out
}

// split cuts every line into its fragments, keeping line boundaries.
func (p Policy) split(lines []string) [][][]byte {
	ending := p.lineEnding()
	out := make([][][]byte, 0, len(lines))

	for _, l := range lines {
		data := []byte(l + ending)
		size := p.ChunkSize
		if size <= 0 {
			size = len(data)
		}

		frags := make([][]byte, 0, len(data)/size+1)
		for len(data) > 0 {
			n := min(size, len(data))
			frags = append(frags, data[:n:n])
			if p.EmptyWrites {
				frags = append(frags, []byte{})
			}
			data = data[n:]
		}
		out = append(out, frags)
	}

	return out
}
