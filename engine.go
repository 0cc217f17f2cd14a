package modbus

import (
	"time"

	"github.com/google/uuid"
)

// wheelTick is the timeout wheel's advance period. Coarser than a
// typical Modbus timeout's precision requirement would need in
// isolation, but fine enough that DefaultResponseTimeout (1s) spans
// 100 ticks.
const wheelTick = 10 * time.Millisecond

// Engine is the top-level async transaction engine: a fixed-capacity
// slot registry, a timeout wheel, a single dispatcher goroutine, and a
// registry of open device carriers. Build one with NewEngine and submit
// work through its per-function-code methods.
type Engine struct {
	cfg   *Config
	core  *engineCore
	react reactor
	ctx   *contextRegistry
}

// NewEngine validates cfg and wires the registry, timeout wheel,
// dispatcher, and carrier reactor together. The returned Engine has no
// open device contexts yet; call OpenTCPContext/OpenSerialContext to add
// one.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := newRegistry(cfg.MaxRequests)
	clk := newClock()
	core := &engineCore{reg: reg, clk: clk, metrics: cfg.Metrics, cfg: cfg}
	core.disp = newDispatcher(reg, clk)
	core.wheel = newTimeoutWheel(cfg.ResponseTimeout, cfg.WheelSlack, wheelTick, core.onTimeout)

	react, err := newReactor()
	if err != nil {
		return nil, wrapKind(KindTransportFault, err)
	}

	core.disp.run()
	core.wheel.run()

	return &Engine{cfg: cfg, core: core, react: react, ctx: newContextRegistry()}, nil
}

// OpenTCPContext dials addr (host:port), returning a context id for use
// in submission calls and RemoveContext. A single opened context can
// address any number of Modbus unit ids on the far end (a gateway
// multiplexing several RTU devices behind one TCP socket, for example):
// the unit id is supplied per call to each submission method, not here.
func (e *Engine) OpenTCPContext(addr string) (uuid.UUID, error) {
	w, err := openTCPCarrier(e.core, e.react, addr)
	if err != nil {
		return uuid.UUID{}, err
	}
	return e.ctx.add(w), nil
}

// OpenSerialContext opens portName with the given line parameters,
// returning a context id. dir may be nil, in which case direction
// switching is a no-op (suitable for RS-232 or when an external
// transceiver handles direction itself). As with OpenTCPContext, unit id
// is a per-call submission parameter, not bound at open time: an RS-485
// bus reaches every unit id wired to it through this one context.
func (e *Engine) OpenSerialContext(portName string, baud int, parity Parity, dir DirectionControl) (uuid.UUID, error) {
	port, err := openSerialPort(portName, baud, parity)
	if err != nil {
		return uuid.UUID{}, err
	}
	w := openSerialCarrier(e.core, port, dir, baud)
	return e.ctx.add(w), nil
}

// OpenSerialContextWithPort registers a carrier over an already-open
// DeadlineReadWriter (e.g. a net.Pipe() half), bypassing real termios
// configuration. Exists so tests can exercise the serial carrier without
// a real device.
func (e *Engine) OpenSerialContextWithPort(port DeadlineReadWriter, baud int, dir DirectionControl) uuid.UUID {
	w := openSerialCarrier(e.core, port, dir, baud)
	return e.ctx.add(w)
}

// RemoveContext closes and forgets a previously opened carrier.
func (e *Engine) RemoveContext(id uuid.UUID) error {
	c, err := e.ctx.get(id)
	if err != nil {
		return err
	}
	closeCarrier(c)
	e.ctx.remove(id)
	return nil
}

// Shutdown closes every open context and stops the dispatcher and
// timeout wheel. The Engine must not be used afterward.
func (e *Engine) Shutdown() {
	e.ctx.each(func(id uuid.UUID, c carrierHandle) {
		closeCarrier(c)
	})
	e.react.close()
	e.core.wheel.stop()
	e.core.disp.stop()
}

func closeCarrier(c carrierHandle) {
	switch w := c.(type) {
	case *tcpWriter:
		w.close()
	case *serialWriter:
		w.close()
	}
}

// submit is the shared plumbing every per-function-code method uses:
// reserve a slot, populate it, move it to ReceivedFromApp, and hand it
// to its carrier. Returns a synchronous error and leaves the slot back
// at Idle if anything fails before the carrier accepts the work; no
// completion callback fires in that case, preserving "exactly one
// completion per accepted request."
//
// There is deliberately no context.Context parameter here: a second
// cancellation path racing the timeout wheel and the reactor for the
// same slot's CAS would make "exactly one completion" much harder to
// reason about for no real benefit over ResponseTimeout.
func (e *Engine) submit(ctxID uuid.UUID, unitID byte, fc FunctionCode, pdu []byte, address, quantity uint16, priority int, cb CompletionFunc) error {
	carrier, err := e.ctx.get(ctxID)
	if err != nil {
		return err
	}

	s := e.core.reg.reserve()
	if s == nil {
		return wrapKind(KindResourceExhaustion, ErrNoFreeSlot)
	}

	s.unitID = unitID
	s.function = fc
	s.txBuf = pdu
	s.startAddress = address
	s.quantity = quantity
	s.priority = priority
	s.complete = cb
	s.carrier = carrier

	if !e.core.reg.emplace(s, e.core.clk.now()) {
		s.reset()
		s.setState(stateIdle)
		return wrapKind(KindInvalidInput, ErrInvalidParameter)
	}

	if err := carrier.enqueue(s); err != nil {
		s.reset()
		s.setState(stateIdle)
		return err
	}
	return nil
}

// ReadCoils submits a read-coils request against unitID.
func (e *Engine) ReadCoils(ctxID uuid.UUID, unitID byte, address, quantity uint16, priority int, cb CompletionFunc) error {
	return e.submit(ctxID, unitID, FuncReadCoils, EncodeReadRequest(FuncReadCoils, address, quantity), address, quantity, priority, cb)
}

// ReadDiscreteInputs submits a read-discrete-inputs request against unitID.
func (e *Engine) ReadDiscreteInputs(ctxID uuid.UUID, unitID byte, address, quantity uint16, priority int, cb CompletionFunc) error {
	return e.submit(ctxID, unitID, FuncReadDiscreteInputs, EncodeReadRequest(FuncReadDiscreteInputs, address, quantity), address, quantity, priority, cb)
}

// ReadHoldingRegisters submits a read-holding-registers request against unitID.
func (e *Engine) ReadHoldingRegisters(ctxID uuid.UUID, unitID byte, address, quantity uint16, priority int, cb CompletionFunc) error {
	return e.submit(ctxID, unitID, FuncReadHoldingRegisters, EncodeReadRequest(FuncReadHoldingRegisters, address, quantity), address, quantity, priority, cb)
}

// ReadInputRegisters submits a read-input-registers request against unitID.
func (e *Engine) ReadInputRegisters(ctxID uuid.UUID, unitID byte, address, quantity uint16, priority int, cb CompletionFunc) error {
	return e.submit(ctxID, unitID, FuncReadInputRegisters, EncodeReadRequest(FuncReadInputRegisters, address, quantity), address, quantity, priority, cb)
}

// WriteSingleCoil submits a write-single-coil request against unitID. value
// must be 0x0000 or 0xFF00 per the Modbus convention for coil writes.
func (e *Engine) WriteSingleCoil(ctxID uuid.UUID, unitID byte, address, value uint16, priority int, cb CompletionFunc) error {
	return e.submit(ctxID, unitID, FuncWriteSingleCoil, EncodeWriteSingleRequest(FuncWriteSingleCoil, address, value), address, 1, priority, cb)
}

// WriteSingleRegister submits a write-single-register request against unitID.
func (e *Engine) WriteSingleRegister(ctxID uuid.UUID, unitID byte, address, value uint16, priority int, cb CompletionFunc) error {
	return e.submit(ctxID, unitID, FuncWriteSingleRegister, EncodeWriteSingleRequest(FuncWriteSingleRegister, address, value), address, 1, priority, cb)
}

// WriteMultipleCoils submits a write-multiple-coils request against unitID.
func (e *Engine) WriteMultipleCoils(ctxID uuid.UUID, unitID byte, address uint16, values []bool, priority int, cb CompletionFunc) error {
	return e.submit(ctxID, unitID, FuncWriteMultipleCoils, EncodeWriteMultipleCoilsRequest(address, values), address, uint16(len(values)), priority, cb)
}

// WriteMultipleRegisters submits a write-multiple-registers request against unitID.
func (e *Engine) WriteMultipleRegisters(ctxID uuid.UUID, unitID byte, address uint16, values []uint16, priority int, cb CompletionFunc) error {
	return e.submit(ctxID, unitID, FuncWriteMultipleRegisters, EncodeWriteMultipleRegistersRequest(address, values), address, uint16(len(values)), priority, cb)
}

// ReadFileRecord submits a read-file-record request against unitID.
func (e *Engine) ReadFileRecord(ctxID uuid.UUID, unitID byte, records []FileRecordRequest, priority int, cb CompletionFunc) error {
	return e.submit(ctxID, unitID, FuncReadFileRecord, EncodeReadFileRecordRequest(records), 0, 0, priority, cb)
}

// WriteFileRecord submits a write-file-record request against unitID.
func (e *Engine) WriteFileRecord(ctxID uuid.UUID, unitID byte, records []FileSubRecord, priority int, cb CompletionFunc) error {
	return e.submit(ctxID, unitID, FuncWriteFileRecord, EncodeWriteFileRecordRequest(records), 0, 0, priority, cb)
}

// ReadDeviceIdentification submits a read-device-identification request against unitID.
func (e *Engine) ReadDeviceIdentification(ctxID uuid.UUID, unitID byte, readDeviceIDCode, objectID byte, priority int, cb CompletionFunc) error {
	return e.submit(ctxID, unitID, FuncReadDeviceIdentification, EncodeReadDeviceIdentificationRequest(readDeviceIDCode, objectID), 0, 0, priority, cb)
}
