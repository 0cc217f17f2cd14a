package modbus

import (
	"sync/atomic"
)

// registry is the fixed-capacity table of slots the engine multiplexes
// in-flight transactions over. Capacity is Config.MaxRequests, chosen at
// construction and never resized.
//
// Reservation is round-robin over the slot index, the same scanning
// shape rolfl-modbus/rtu.go uses for its pending map, generalized from a
// map to a dense, CAS-guarded array so Idle→Reserved is lock-free.
type registry struct {
	slots []slot
	next  uint32 // atomic scan cursor for reserve()
}

func newRegistry(capacity int) *registry {
	r := &registry{slots: make([]slot, capacity)}
	for i := range r.slots {
		r.slots[i].id = uint16(i)
		r.slots[i].timeoutSlot = -1
	}
	return r
}

func (r *registry) capacity() int {
	return len(r.slots)
}

// reserve scans for an Idle slot and CASes it to Reserved, returning nil
// if the table is saturated. Starts from a rotating cursor so load is
// spread across the table rather than always contending on slot 0.
func (r *registry) reserve() *slot {
	n := uint32(len(r.slots))
	start := atomic.AddUint32(&r.next, 1) % n
	for i := uint32(0); i < n; i++ {
		idx := (start + i) % n
		s := &r.slots[idx]
		if s.casState(stateIdle, stateReserved) {
			return s
		}
	}
	return nil
}

// emplace moves a Reserved slot to ReceivedFromApp, stamping ts_recv.
// Called once the submission surface has finished populating s with the
// caller's request fields.
func (r *registry) emplace(s *slot, tsRecv int64) bool {
	if !s.casState(stateReserved, stateReceivedFromApp) {
		return false
	}
	s.tsRecv = tsRecv
	return true
}

// markSent transitions a slot from ReceivedFromApp to SentOnNetwork once
// the carrier writer has placed it on the wire, stamping ts_sent.
func (r *registry) markSent(s *slot, tsSent int64) bool {
	if !s.casState(stateReceivedFromApp, stateSentOnNetwork) {
		return false
	}
	s.tsSent = tsSent
	return true
}

// completeFromNetwork transitions SentOnNetwork → ResponseReceivedFromNetwork,
// stamping ts_resp_recv. Returns false if the slot already left
// SentOnNetwork (e.g. it already timed out), which the reactor treats as
// a response arriving too late to matter.
func (r *registry) completeFromNetwork(s *slot, tsRespRecv int64) bool {
	if !s.casState(stateSentOnNetwork, stateResponseReceivedFromNetwork) {
		return false
	}
	s.tsRespRecv = tsRespRecv
	return true
}

// completeTimeout transitions SentOnNetwork → ResponseTimedOut. Returns
// false if a response raced in first.
func (r *registry) completeTimeout(s *slot) bool {
	return s.casState(stateSentOnNetwork, stateResponseTimedOut)
}

// completeError transitions either ReceivedFromApp or SentOnNetwork to
// ResponseError, for carrier-level failures (connect failure, short
// write, frame-integrity failure) that short-circuit the normal
// send/receive path.
func (r *registry) completeError(s *slot) bool {
	if s.casState(stateSentOnNetwork, stateResponseError) {
		return true
	}
	return s.casState(stateReceivedFromApp, stateResponseError)
}

// release returns a terminal slot (any of the three completion states)
// to Idle after the dispatcher has invoked its completion callback,
// clearing its content so a future reservation starts clean.
func (r *registry) release(s *slot) bool {
	state := s.loadState()
	switch state {
	case stateResponseReceivedFromNetwork, stateResponseTimedOut, stateResponseError:
		s.reset()
		s.setState(stateIdle)
		return true
	default:
		return false
	}
}

// byID returns the slot at wire transaction id id, or nil if out of
// range. The reactor uses this to demultiplex an inbound frame's tx_id
// directly to its owning slot in O(1).
func (r *registry) byID(id uint16) *slot {
	if int(id) >= len(r.slots) {
		return nil
	}
	return &r.slots[id]
}
