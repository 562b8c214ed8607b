package util

// CloneSlice clones src into a new slice of cloneSize elements.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// Compact moves the unread tail buf[off:] to the front of buf and returns the shortened slice.
//
// The backing array is kept, so repeated appends after a compaction do not reallocate
// until the retained capacity is exhausted.
func Compact[T any](buf []T, off int) []T {
	if off <= 0 {
		return buf
	}
	if off >= len(buf) {
		return buf[:0]
	}
	n := copy(buf, buf[off:])

	return buf[:n]
}
