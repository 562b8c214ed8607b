package line

import (
	"bytes"
	"errors"
	"fmt"
	"iter"

	"github.com/arloliu/go-linebridge/internal/util"
)

const (
	// DefaultMaxLineLength is the soft cap on a single line, delimiter excluded.
	DefaultMaxLineLength = 64 * 1024
	// MaxLineLengthLimit is the largest value accepted by WithMaxLineLength.
	MaxLineLengthLimit = 16 * 1024 * 1024

	// DefaultDelimiter terminates a line.
	DefaultDelimiter byte = '\n'
)

// Line is one complete record extracted from the stream, delimiter stripped.
type Line struct {
	// Seq increases by one for every line the Reassembler yields, starting at 1.
	// Dropped over-long lines consume a sequence number too.
	Seq uint64
	// Data is owned by the receiver; the Reassembler never touches it again.
	Data []byte
}

func (l Line) String() string { return string(l.Data) }

// Reassembler accumulates raw bytes and yields complete lines.
//
// Reassembler is NOT goroutine-safe. It is meant to be owned by a single reader,
// consistent with one read loop per connection.
type Reassembler struct {
	buf        []byte
	off        int  // start of unconsumed bytes in buf
	scanned    int  // buf[off:scanned] is known to contain no delimiter
	discarding bool // dropping bytes of an over-long line until the next delimiter
	seq        uint64

	maxLen int
	delim  byte
}

// New creates a Reassembler. See WithMaxLineLength and WithDelimiter.
func New(opts ...Option) (*Reassembler, error) {
	r := &Reassembler{
		maxLen: DefaultMaxLineLength,
		delim:  DefaultDelimiter,
	}

	for _, opt := range opts {
		if err := opt.apply(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Feed appends chunk to the line buffer and returns the lines that are now complete.
//
// The chunk is copied before Feed returns, so the caller may reuse it. The returned
// sequence is evaluated lazily: lines are cut from the buffer while the caller ranges
// over it. Lines left unconsumed when the caller stops early stay buffered and are
// yielded by the next Feed. An empty chunk is valid and only yields leftovers.
//
// A non-nil error is always a *LineTooLongError; the line it describes is dropped
// and later lines are unaffected.
func (r *Reassembler) Feed(chunk []byte) iter.Seq2[Line, error] {
	if len(chunk) > 0 {
		r.compact()
		r.buf = append(r.buf, chunk...)
	}

	return func(yield func(Line, error) bool) {
		for {
			l, ok, err := r.next()
			if !ok {
				return
			}
			if !yield(l, err) {
				return
			}
		}
	}
}

// Pending returns the number of buffered bytes not yet yielded.
func (r *Reassembler) Pending() int {
	return len(r.buf) - r.off
}

// Seq returns the sequence number of the most recently yielded line.
func (r *Reassembler) Seq() uint64 {
	return r.seq
}

// Reset drops all buffered bytes, including an undelimited partial line.
// The sequence counter keeps running so that gaps stay visible to consumers.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.off = 0
	r.scanned = 0
	r.discarding = false
}

// MaxLineLength returns the configured soft cap.
func (r *Reassembler) MaxLineLength() int { return r.maxLen }

// next cuts the next line, or over-long line report, from the buffer.
// ok is false when the buffer holds no complete record.
func (r *Reassembler) next() (l Line, ok bool, err error) {
	for {
		if r.scanned < r.off {
			r.scanned = r.off
		}

		idx := bytes.IndexByte(r.buf[r.scanned:], r.delim)
		if idx < 0 {
			r.scanned = len(r.buf)

			if r.discarding {
				r.Reset()
				r.discarding = true

				return Line{}, false, nil
			}

			// pending bytes already exceed the cap; report now rather than buffer without bound
			if pending := r.contentLen(r.buf[r.off:]); pending > r.maxLen {
				r.seq++
				err = &LineTooLongError{Seq: r.seq, Length: pending, Max: r.maxLen}
				r.Reset()
				r.discarding = true

				return Line{}, true, err
			}

			return Line{}, false, nil
		}

		end := r.scanned + idx
		data := r.buf[r.off:end]
		r.off = end + 1
		r.scanned = r.off

		if r.discarding {
			r.discarding = false
			continue
		}

		r.seq++
		if n := r.contentLen(data); n > r.maxLen {
			return Line{}, true, &LineTooLongError{Seq: r.seq, Length: n, Max: r.maxLen}
		}

		return Line{Seq: r.seq, Data: util.CloneSlice(data, 0)}, true, nil
	}
}

// contentLen is the length checked against the cap. With a '\n' delimiter one
// trailing '\r' is not counted, so CRLF lines get the same cap as LF lines.
func (r *Reassembler) contentLen(data []byte) int {
	n := len(data)
	if r.delim == '\n' && n > 0 && data[n-1] == '\r' {
		n--
	}

	return n
}

// compact releases consumed bytes at the front of the buffer before it grows.
func (r *Reassembler) compact() {
	if r.off == 0 {
		return
	}
	r.buf = util.Compact(r.buf, r.off)
	r.scanned -= r.off
	r.off = 0
}

// Option configures a Reassembler.
type Option interface {
	apply(*Reassembler) error
}

type optFunc func(*Reassembler) error

func (f optFunc) apply(r *Reassembler) error { return f(r) }

// WithMaxLineLength sets the soft cap on line length, delimiter excluded.
// It must be in [1, MaxLineLengthLimit]. Defaults to DefaultMaxLineLength.
func WithMaxLineLength(n int) Option {
	return optFunc(func(r *Reassembler) error {
		if n < 1 || n > MaxLineLengthLimit {
			return fmt.Errorf("line: max line length %d out of range [1, %d]", n, MaxLineLengthLimit)
		}
		r.maxLen = n

		return nil
	})
}

// WithDelimiter sets the byte that terminates a line. Defaults to '\n'.
func WithDelimiter(delim byte) Option {
	return optFunc(func(r *Reassembler) error {
		if delim == 0 {
			return errors.New("line: NUL is not a usable delimiter")
		}
		r.delim = delim

		return nil
	})
}
