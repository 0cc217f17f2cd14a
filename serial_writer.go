package modbus

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// DeadlineReadWriter is the narrow interface serialWriter needs from its
// underlying port, grounded on npat-efault-modbus/serrcv.go's use of
// deadline-aware reads/writes. A real termios-configured file descriptor
// satisfies it; so does a net.Pipe() half, which is what lets tests
// exercise the carrier without real hardware.
type DeadlineReadWriter interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// DirectionControl toggles an RS-485 transceiver between transmit and
// receive, an external GPIO collaborator this engine does not
// implement (grounded on original_source/Src/gpio_service.c, kept here
// only as the seam a caller wires a real implementation into).
// noopDirectionControl is the default when none is supplied.
type DirectionControl interface {
	AssertTransmit() error
	AssertReceive() error
}

type noopDirectionControl struct{}

func (noopDirectionControl) AssertTransmit() error { return nil }
func (noopDirectionControl) AssertReceive() error  { return nil }

// serialWriter is the per-port serial carrier: a single DeadlineReadWriter,
// a FIFO work queue, one goroutine that owns both writing the request and
// reading the matching response (serial is half-duplex by construction,
// unlike the TCP carrier's separate writer/reactor split). Grounded on
// rolfl-modbus/rtu.go's writer/reader/ticker trio and
// npat-efault-modbus/serrcv.go's two-phase size-aware read loop.
type serialWriter struct {
	core *engineCore
	port DeadlineReadWriter
	dir  DirectionControl

	interFrameDelay time.Duration

	queue  chan *slot
	closed int32
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// interFrameDelayForBaud derives the Modbus-standard 3.5-character
// silent interval: for baud <= 19200 it scales with baud, for faster
// lines it is fixed at 1750us.
func interFrameDelayForBaud(baud int) time.Duration {
	if baud <= 0 {
		return 1750 * time.Microsecond
	}
	if baud <= 19200 {
		micros := 38_500_000 / baud
		return time.Duration(micros) * time.Microsecond
	}
	return 1750 * time.Microsecond
}

// openSerialCarrier starts the carrier's loop goroutine over an
// already-opened, already-configured port (construction of the termios
// settings themselves is openSerialPort's job so tests can substitute a
// net.Pipe() half here instead).
func openSerialCarrier(core *engineCore, port DeadlineReadWriter, dir DirectionControl, baud int) *serialWriter {
	if dir == nil {
		dir = noopDirectionControl{}
	}
	configured := core.cfg.InterFrameDelay
	derived := interFrameDelayForBaud(baud)
	delay := configured
	if derived > delay {
		delay = derived
	}

	w := &serialWriter{
		core:            core,
		port:            port,
		dir:             dir,
		interFrameDelay: delay,
		queue:           make(chan *slot, core.cfg.QueueDepth),
		stopCh:          make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *serialWriter) enqueue(s *slot) error {
	if atomic.LoadInt32(&w.closed) != 0 {
		return wrapKind(KindTransportFault, ErrEngineClosed)
	}
	select {
	case w.queue <- s:
		return nil
	default:
		return wrapKind(KindResourceExhaustion, ErrQueueFull)
	}
}

func (w *serialWriter) loop() {
	defer w.wg.Done()
	// Go has no per-goroutine priority knob; this at least guarantees the
	// termios/ioctl state this carrier owns is only ever touched from one
	// real OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	var lastSend time.Time
	for {
		select {
		case <-w.stopCh:
			return
		case s := <-w.queue:
			if gap := w.interFrameDelay - time.Since(lastSend); gap > 0 {
				time.Sleep(gap)
			}
			w.transact(s)
			lastSend = time.Now()
		}
	}
}

// transact writes the request frame and then blocks this carrier's one
// goroutine on reading the matching response, since an RS-485 bus is
// half-duplex: nothing else can be in flight on this port at the same
// time anyway.
func (w *serialWriter) transact(s *slot) {
	frame := encodeSerialFrame(s.unitID, s.txBuf)

	if err := w.dir.AssertTransmit(); err != nil {
		w.core.failSlot(s, wrapKind(KindTransportFault, err))
		return
	}
	w.port.SetWriteDeadline(time.Now().Add(w.core.cfg.ResponseTimeout))
	n, err := w.port.Write(frame)
	if err != nil || n != len(frame) {
		if err == nil {
			err = fmt.Errorf("modbus: short serial write: wrote %d of %d bytes", n, len(frame))
		}
		w.core.failSlot(s, wrapKind(KindTransportFault, err))
		return
	}

	tsSent := w.core.clk.now()
	if !w.core.reg.markSent(s, tsSent) {
		return
	}
	w.core.metrics.IncrementSent()

	if err := w.dir.AssertReceive(); err != nil {
		w.core.failSlot(s, wrapKind(KindTransportFault, err))
		return
	}

	resp, err := w.readResponse()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			w.core.failSlotTimeout(s)
			return
		}
		w.core.failSlot(s, wrapKind(KindTransportFault, err))
		return
	}
	unitID, pdu, err := decodeSerialFrame(resp)
	if err != nil {
		w.core.failSlot(s, err)
		return
	}
	if unitID != s.unitID {
		w.core.metrics.IncrementCorrelationMismatch()
		w.core.failSlot(s, wrapKind(KindFrameIntegrity, ErrCorrelationMismatch))
		return
	}
	w.core.completeFromNetwork(s, pdu)
}

// readResponse implements the two-phase serial read: first the 3-byte
// header as an indivisible unit, then the function-code high bit
// decides how many more bytes remain.
func (w *serialWriter) readResponse() ([]byte, error) {
	w.port.SetReadDeadline(time.Now().Add(w.core.cfg.ResponseTimeout))

	var header [serialHeaderLen]byte
	if err := w.readFull(header[:]); err != nil {
		return nil, err
	}

	if FunctionCode(header[1])&exceptionFlag != 0 {
		rest := make([]byte, 2) // exception code's CRC trailer; header[2] already holds the exception code
		if err := w.readFull(rest); err != nil {
			return nil, err
		}
		frame := append(header[:], rest...)
		return frame, nil
	}

	if FunctionCode(header[1]) == FuncReadDeviceIdentification {
		return w.readDeviceIdentificationTail(header)
	}

	remaining, err := serialRemainingAfterHeader(header)
	if err != nil {
		return nil, err
	}
	rest := make([]byte, remaining)
	if err := w.readFull(rest); err != nil {
		return nil, err
	}
	return append(header[:], rest...), nil
}

// readDeviceIdentificationTail reads the variable-length object stream a
// read-device-identification response carries, one (id, length, value)
// triple at a time, since its size cannot be known from the 3-byte
// header alone.
func (w *serialWriter) readDeviceIdentificationTail(header [serialHeaderLen]byte) ([]byte, error) {
	frame := append([]byte{}, header[:]...)
	fixedRest := make([]byte, 4) // read-device-id code, conformity, more-follows, next-object-id
	if err := w.readFull(fixedRest); err != nil {
		return nil, err
	}
	frame = append(frame, fixedRest...)

	numObjectsByte := make([]byte, 1)
	if err := w.readFull(numObjectsByte); err != nil {
		return nil, err
	}
	frame = append(frame, numObjectsByte...)
	numObjects := int(numObjectsByte[0])

	for i := 0; i < numObjects; i++ {
		objHeader := make([]byte, 2)
		if err := w.readFull(objHeader); err != nil {
			return nil, err
		}
		frame = append(frame, objHeader...)
		value := make([]byte, int(objHeader[1]))
		if len(value) > 0 {
			if err := w.readFull(value); err != nil {
				return nil, err
			}
			frame = append(frame, value...)
		}
	}

	crc := make([]byte, 2)
	if err := w.readFull(crc); err != nil {
		return nil, err
	}
	return append(frame, crc...), nil
}

func (w *serialWriter) readFull(buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := w.port.Read(buf[read:])
		read += n
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

func (w *serialWriter) close() {
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
	if c, ok := w.port.(io.Closer); ok {
		c.Close()
	}
}
