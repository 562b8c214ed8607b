// Package session manages a TCP connection to a device that speaks a newline-delimited
// text protocol.
//
// A Session dials the device, runs a read loop that reassembles the byte stream into
// lines and decodes each line into a protocol.Event, and serializes outbound lines.
// Its lifecycle follows a small state machine:
//
//	Disconnected -> Connecting -> Connected -> Closing -> Disconnected
//	Connecting -> Failed      (timeout, refusal or dial error)
//	Connected  -> Failed      (unexpected read or write error)
//	Connecting -> Disconnected (Close while dialing)
//
// Every attempt ends with exactly one Termination, delivered to termination handlers
// and available through Session.Termination. The session never reconnects on its own;
// Termination.Reason is meant to drive a consumer-side retry policy.
//
// Example:
//
//	cfg, err := session.NewConfig("192.168.4.1", 5000, session.WithConnectTimeout(5*time.Second))
//	if err != nil {
//		return err
//	}
//	s, err := session.NewSession(cfg)
//	if err != nil {
//		return err
//	}
//	s.AddEventHandler(func(seq uint64, ev protocol.Event) {
//		fmt.Println(seq, ev)
//	})
//	return s.Run(ctx)
package session
