package modbus

import (
	"sync/atomic"
)

// slotState is the per-slot lifecycle position:
// Idle → Reserved → ReceivedFromApp → SentOnNetwork →
// {ResponseReceivedFromNetwork | ResponseTimedOut | ResponseError} → Idle.
type slotState int32

const (
	stateIdle slotState = iota
	stateReserved
	stateReceivedFromApp
	stateSentOnNetwork
	stateResponseReceivedFromNetwork
	stateResponseTimedOut
	stateResponseError
)

// CompletionFunc is invoked exactly once per accepted request, from the
// dispatcher goroutine, carrying the decoded Result and the error that
// explains a failure. For a protocol exception both are set (an
// ExceptionResult plus its error); for any other failure Result is nil.
type CompletionFunc func(result Result, err error)

// slot is one entry of the fixed-capacity registry. Fields are touched
// by at most one of {submitter, carrier writer, reactor, timeout wheel,
// dispatcher} at a time, coordinated by the CAS transitions on state;
// the fields themselves are not individually synchronized.
type slot struct {
	id       uint16 // wire transaction id; equals this slot's index
	state    int32  // atomic slotState
	unitID   byte
	function FunctionCode

	txBuf []byte // encoded PDU awaiting send
	rxBuf []byte // not populated: responses are decoded straight from the read buffer

	result Result
	err    error

	startAddress uint16
	quantity     uint16
	priority     int

	tsRecv     int64 // accepted from caller
	tsSent     int64 // written to the wire by the carrier writer
	tsRespRecv int64 // response frame demultiplexed
	tsRespSent int64 // completion callback invoked

	timeoutSlot int // bucket index in the timeout wheel, -1 if not armed

	complete CompletionFunc

	carrier carrierHandle // device this slot's request travels over
}

func (s *slot) loadState() slotState {
	return slotState(atomic.LoadInt32(&s.state))
}

// casState attempts the one legal transition from 'from' to 'to',
// reporting whether it won the race. Every state change in the engine
// goes through this, which is what makes the lifecycle safe across the
// writer/reactor/wheel/dispatcher goroutines touching the same slot.
func (s *slot) casState(from, to slotState) bool {
	return atomic.CompareAndSwapInt32(&s.state, int32(from), int32(to))
}

func (s *slot) setState(to slotState) {
	atomic.StoreInt32(&s.state, int32(to))
}

// reset clears a slot back to its zero content before it is returned to
// Idle, so a future reservation never observes a stale result, buffer,
// or callback from a previous transaction.
func (s *slot) reset() {
	s.unitID = 0
	s.function = 0
	s.txBuf = nil
	s.rxBuf = nil
	s.result = nil
	s.err = nil
	s.startAddress = 0
	s.quantity = 0
	s.priority = 0
	s.tsRecv = 0
	s.tsSent = 0
	s.tsRespRecv = 0
	s.tsRespSent = 0
	s.timeoutSlot = -1
	s.complete = nil
	s.carrier = nil
}
