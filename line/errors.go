package line

import (
	"errors"
	"fmt"
)

// ErrLineTooLong indicates that a line exceeded the configured maximum length and was dropped.
var ErrLineTooLong = errors.New("line: line too long")

// LineTooLongError reports one dropped over-long line.
//
// It matches ErrLineTooLong with errors.Is.
type LineTooLongError struct {
	// Seq is the sequence number consumed by the dropped line.
	Seq uint64
	// Length is the number of bytes observed when the line was rejected.
	// For a line rejected before its delimiter arrived this is a lower bound.
	Length int
	// Max is the configured maximum line length.
	Max int
}

func (e *LineTooLongError) Error() string {
	return fmt.Sprintf("line: line %d too long, %d bytes exceeds maximum %d", e.Seq, e.Length, e.Max)
}

func (e *LineTooLongError) Unwrap() error { return ErrLineTooLong }
