package modbus

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sagernet/sing/common/bufio"
	"golang.org/x/sys/unix"
)

// tcpConnectState is the non-blocking TCP connect state machine,
// observed directly via raw sockets and SO_ERROR rather than net.Dialer,
// so EINPROGRESS and connect failure are both visible states instead of
// a single blocking call.
type tcpConnectState int32

const (
	tcpNotConnected tcpConnectState = iota
	tcpInProgress
	tcpConnected
	tcpFailed
)

// tcpWriter is the per-device TCP carrier: one non-blocking socket, one
// FIFO work queue, one send-loop goroutine. Grounded on
// hootrhino-gomodbus/tcp_transporter.go for the connect/deadline shape
// and on SagerNet-smux/session.go's sendLoop for the
// queue-owned-by-one-goroutine, sing/bufio vectorised-write shape.
type tcpWriter struct {
	core  *engineCore
	react reactor

	fd    int
	conn  net.Conn // write-side wrapper around fd, for bufio.CreateVectorisedWriter
	state int32    // atomic tcpConnectState

	queue  chan *slot
	closed int32
	stopCh chan struct{}
	wg     sync.WaitGroup

	interFrameDelay time.Duration
	lastSend        time.Time
}

// openTCPCarrier dials addr (host:port) with the non-blocking connect
// state machine, registers the resulting socket with react for reads,
// and starts the send loop. A single opened carrier can address any
// number of Modbus unit ids: the unit id travels per-request on the
// slot, not on the carrier (real gateways multiplex several unit ids
// over one TCP socket).
func openTCPCarrier(core *engineCore, react reactor, addr string) (*tcpWriter, error) {
	rawFd, err := connectNonBlocking(addr, core.cfg.ConnectTimeout)
	if err != nil {
		core.cfg.logf("modbus: TCP connect to %s failed: %v", addr, err)
		return nil, wrapKind(KindTransportFault, err)
	}

	// fdToFile does not dup rawFd; net.FileConn does, internally, to
	// build conn. So closing file below closes rawFd, not conn's own
	// descriptor — conn.Close() is what later releases that one. The fd
	// the reactor registers/reads/unregisters must therefore be conn's
	// descriptor, recovered via connFD, not rawFd.
	file, ferr := fdToFile(rawFd)
	if ferr != nil {
		unix.Close(rawFd)
		return nil, wrapKind(KindTransportFault, ferr)
	}
	conn, cerr := net.FileConn(file)
	file.Close()
	if cerr != nil {
		return nil, wrapKind(KindTransportFault, cerr)
	}

	sc, ok := conn.(syscall.Conn)
	if !ok {
		conn.Close()
		return nil, wrapKind(KindTransportFault, fmt.Errorf("modbus: TCP connection type %T exposes no raw descriptor", conn))
	}
	fd, err := connFD(sc)
	if err != nil {
		conn.Close()
		return nil, wrapKind(KindTransportFault, err)
	}

	w := &tcpWriter{
		core:            core,
		react:           react,
		fd:              fd,
		conn:            conn,
		state:           int32(tcpConnected),
		queue:           make(chan *slot, core.cfg.QueueDepth),
		stopCh:          make(chan struct{}),
		interFrameDelay: core.cfg.InterFrameDelay,
	}
	if err := react.register(fd, core); err != nil {
		conn.Close()
		return nil, wrapKind(KindTransportFault, err)
	}
	w.wg.Add(1)
	go w.sendLoop()
	return w, nil
}

// enqueue hands s to the send loop. Never blocks: a full queue is
// reported back to the caller immediately as ErrQueueFull.
func (w *tcpWriter) enqueue(s *slot) error {
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

func (w *tcpWriter) sendLoop() {
	defer w.wg.Done()
	bw, vectorised := bufio.CreateVectorisedWriter(w.conn)
	for {
		select {
		case <-w.stopCh:
			return
		case s := <-w.queue:
			if gap := w.interFrameDelay - time.Since(w.lastSend); gap > 0 {
				time.Sleep(gap)
			}

			frame := encodeTCPFrame(s.id, s.unitID, s.txBuf)

			var n int
			var err error
			if vectorised {
				n, err = bufio.WriteVectorised(bw, [][]byte{frame[:mbapHeaderLen], frame[mbapHeaderLen:]})
			} else {
				n, err = w.conn.Write(frame)
			}
			w.lastSend = time.Now()

			if err != nil || n != len(frame) {
				if err == nil {
					err = fmt.Errorf("modbus: short TCP write: wrote %d of %d bytes", n, len(frame))
				}
				w.core.failSlot(s, wrapKind(KindTransportFault, err))
				continue
			}

			tsSent := w.core.clk.now()
			if !w.core.reg.markSent(s, tsSent) {
				continue
			}
			w.core.metrics.IncrementSent()
			w.core.wheel.insert(s, w.core.wheel.ticksFor(w.core.cfg.ResponseTimeout))
		}
	}
}

func (w *tcpWriter) close() {
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		return
	}
	close(w.stopCh)
	w.react.unregister(w.fd)
	w.conn.Close()
	w.wg.Wait()
}

// connectNonBlocking performs the non-blocking connect state machine:
// NotConnected → InProgress (EINPROGRESS observed directly) →
// Connected/Failed (SO_ERROR observed after the socket becomes
// writable). Retries the connect call once if the first attempt's grace
// window elapses without the socket becoming writable, matching
// original_source/Src/ClientSocket.c's single bounded retry before
// declaring the device unreachable.
func connectNonBlocking(addr string, timeout time.Duration) (int, error) {
	raddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return 0, err
	}

	attempt := func() (int, tcpConnectState, error) {
		family := unix.AF_INET
		var sa unix.Sockaddr
		if ip4 := raddr.IP.To4(); ip4 != nil {
			s := &unix.SockaddrInet4{Port: raddr.Port}
			copy(s.Addr[:], ip4)
			sa = s
		} else {
			family = unix.AF_INET6
			s := &unix.SockaddrInet6{Port: raddr.Port}
			copy(s.Addr[:], raddr.IP.To16())
			sa = s
		}

		fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
		if err != nil {
			return 0, tcpFailed, err
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			return 0, tcpFailed, err
		}

		err = unix.Connect(fd, sa)
		if err == nil {
			return fd, tcpConnected, nil
		}
		if err != unix.EINPROGRESS {
			unix.Close(fd)
			return 0, tcpFailed, err
		}

		deadline := time.Now().Add(timeout)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				unix.Close(fd)
				return 0, tcpInProgress, fmt.Errorf("modbus: TCP connect timed out after %s", timeout)
			}
			fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			n, perr := unix.Poll(fds, int(remaining/time.Millisecond)+1)
			if perr != nil {
				if perr == unix.EINTR {
					continue
				}
				unix.Close(fd)
				return 0, tcpFailed, perr
			}
			if n == 0 {
				unix.Close(fd)
				return 0, tcpInProgress, fmt.Errorf("modbus: TCP connect timed out after %s", timeout)
			}
			soErr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
			if gerr != nil {
				unix.Close(fd)
				return 0, tcpFailed, gerr
			}
			if soErr != 0 {
				unix.Close(fd)
				return 0, tcpFailed, unix.Errno(soErr)
			}
			return fd, tcpConnected, nil
		}
	}

	fd, state, err := attempt()
	if state == tcpConnected {
		return fd, nil
	}
	if state == tcpInProgress {
		// One bounded retry within a fresh grace window.
		fd, state, err = attempt()
		if state == tcpConnected {
			return fd, nil
		}
	}
	return 0, err
}
