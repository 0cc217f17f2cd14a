package modbus

// carrierHandle is the narrow interface a slot uses to hand its encoded
// PDU to whichever device transport (TCP or serial) owns it, without the
// registry or dispatcher needing to know which. tcpWriter and
// serialWriter both implement it.
//
// A carrier is an open transport endpoint, not a bound unit address: a
// single TCP socket or serial bus can reach several Modbus unit ids, so
// the unit id travels with each request (see Engine.submit) rather than
// being fixed when the carrier is opened.
type carrierHandle interface {
	// enqueue schedules s for transmission on this carrier's send loop.
	// Returns an error immediately if the carrier's work queue is full
	// or the carrier is closed; never blocks.
	enqueue(s *slot) error
}
