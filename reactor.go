package modbus

import "fmt"

// reactor demultiplexes inbound TCP frames by file descriptor and hands
// each complete frame to the owning engine core for dispatch. Linux gets
// a real epoll-backed implementation (reactor_linux.go); every other
// platform gets a goroutine-per-socket fallback (reactor_other.go), the
// same platform-split convention runZeroInc-sockstats/pkg/tcpinfo uses
// for tcpinfo_linux.go/tcpinfo_other.go.
type reactor interface {
	// register starts watching fd for readability and routes complete
	// frames read from it through core's demux step.
	register(fd int, core *engineCore) error
	// unregister stops watching fd (the carrier is closing it).
	unregister(fd int)
	// close shuts the reactor down, stopping all watches.
	close()
}

// engineCore bundles the shared state a reactor and a carrier writer
// both need: the slot table, the timeout wheel, the dispatch queue, and
// diagnostics. One instance is shared by every carrier the engine owns.
type engineCore struct {
	reg     *registry
	wheel   *timeoutWheel
	disp    *dispatcher
	metrics Metrics
	clk     *clock
	cfg     *Config
}

// demuxTCP is invoked by a reactor once a full MBAP frame (header + PDU)
// has been read from a TCP carrier. It matches the frame to its slot by
// tx_id, re-checks unit_id, decodes, and hands the slot to the
// dispatcher. A tx_id match with a mismatched unit_id is silently
// dropped (counted, not reported to the caller) since it indicates a
// crossed response on a shared gateway, not this request's outcome.
func (c *engineCore) demuxTCP(txID uint16, unitID byte, pdu []byte) {
	s := c.reg.byID(txID)
	if s == nil {
		return
	}
	if s.unitID != unitID {
		c.metrics.IncrementCorrelationMismatch()
		return
	}
	c.completeFromNetwork(s, pdu)
}

// completeFromNetwork runs the common receive-side completion path
// shared by the TCP reactor and the serial writer's read loop: CAS the
// slot out of SentOnNetwork, decode its PDU, record the outcome, and
// submit it to the dispatcher.
func (c *engineCore) completeFromNetwork(s *slot, pdu []byte) {
	tsRecv := c.clk.now()
	if !c.reg.completeFromNetwork(s, tsRecv) {
		return // already timed out or otherwise terminal; response arrived too late
	}
	c.wheel.remove(s)
	c.metrics.IncrementReceived()
	c.metrics.ObserveRoundTrip(tsRecv - s.tsSent)

	fc, result, err := DecodePDU(pdu)
	if err != nil {
		s.err = wrapKind(KindFrameIntegrity, err)
		c.metrics.IncrementFrameError()
	} else if exc, ok := result.(ExceptionResult); ok {
		s.result = exc
		s.err = wrapKind(KindProtocolException, fmt.Errorf("%w: function 0x%02x code %d", ErrProtocolException, byte(fc), exc.Code))
		c.metrics.IncrementProtocolException()
	} else {
		s.result = result
	}
	c.disp.submit(s)
}

// failSlot drives one slot affected by a carrier failure (short write,
// read error, frame-integrity break on read) into ResponseError and
// submits it for completion.
func (c *engineCore) failSlot(s *slot, err error) {
	c.wheel.remove(s)
	if !c.reg.completeError(s) {
		return
	}
	s.err = err
	c.metrics.IncrementTransportFault()
	c.cfg.logf("modbus: tx %d unit %d transport fault: %v", s.id, s.unitID, err)
	c.disp.submit(s)
}

// onTimeout is the timeout wheel's expiry callback.
func (c *engineCore) onTimeout(s *slot) {
	if !c.reg.completeTimeout(s) {
		return
	}
	s.err = wrapKind(KindTimeout, ErrResponseTimeout)
	c.metrics.IncrementTimeout()
	c.cfg.logf("modbus: tx %d unit %d timed out waiting for response", s.id, s.unitID)
	c.disp.submit(s)
}

// failSlotTimeout is onTimeout's counterpart for the serial carrier, which
// has no timeout wheel entry to retire: its own port read deadline is the
// only timeout signal, so a deadline-exceeded read must drive the same
// SentOnNetwork → ResponseTimedOut transition directly instead of falling
// through to failSlot's ResponseError/KindTransportFault path.
func (c *engineCore) failSlotTimeout(s *slot) {
	if !c.reg.completeTimeout(s) {
		return
	}
	s.err = wrapKind(KindTimeout, ErrResponseTimeout)
	c.metrics.IncrementTimeout()
	c.cfg.logf("modbus: tx %d unit %d serial read deadline exceeded", s.id, s.unitID)
	c.disp.submit(s)
}
