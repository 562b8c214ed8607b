// Package devicesim simulates a line-oriented device for tests and demos.
//
// A Source replays a script of lines cut into small fragments, the way a
// microcontroller trickles bytes onto a TCP socket. The split is fully
// determined by a Policy, and pacing goes through an injectable Clock so
// that tests never depend on wall-clock time.
package devicesim
