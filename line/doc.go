// Package line reassembles delimiter-terminated records from a byte stream of unknown fragmentation.
//
// A TCP peer may deliver one logical line across many reads, down to a single byte per read,
// and one read may carry several lines. Reassembler hides that: bytes go in through Feed in
// whatever pieces the transport produced, complete lines come out in stream order.
//
//	r, _ := line.New()
//	for l, err := range r.Feed(chunk) {
//	    if err != nil {
//	        // an over-long line was dropped; the stream resynchronizes on the next delimiter
//	        continue
//	    }
//	    handle(l.Seq, l.Data)
//	}
//
// The length cap excludes the delimiter and, when the delimiter is '\n', one '\r' right
// before it. Yielded lines keep that '\r'.
//
// Reassembler knows nothing about what a line means; see the protocol package for that.
package line
