//go:build linux

package modbus

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollReactor watches every open TCP carrier's file descriptor with a
// single epoll instance and one drain goroutine, grounded on the
// per-OS-file convention of runZeroInc-sockstats/pkg/tcpinfo_linux.go
// and on the demux-by-id shape of SagerNet-smux/session.go's recvLoop.
type epollReactor struct {
	epfd int

	mu    sync.Mutex
	conns map[int]*tcpConnWatch

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type tcpConnWatch struct {
	fd      int
	core    *engineCore
	buf     *tcpFrameReader
	readBuf *bufferPool
}

func newReactor() (reactor, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	r := &epollReactor{
		epfd:   epfd,
		conns:  make(map[int]*tcpConnWatch),
		stopCh: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.loop()
	return r, nil
}

func (r *epollReactor) register(fd int, core *engineCore) error {
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return err
	}
	r.mu.Lock()
	r.conns[fd] = &tcpConnWatch{fd: fd, core: core, buf: newTCPFrameReader(), readBuf: newBufferPool(4096)}
	r.mu.Unlock()
	return nil
}

func (r *epollReactor) unregister(fd int) {
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	r.mu.Lock()
	delete(r.conns, fd)
	r.mu.Unlock()
}

func (r *epollReactor) close() {
	close(r.stopCh)
	unix.Close(r.epfd)
	r.wg.Wait()
}

func (r *epollReactor) loop() {
	defer r.wg.Done()
	events := make([]unix.EpollEvent, 64)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		n, err := unix.EpollWait(r.epfd, events, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			r.mu.Lock()
			w, ok := r.conns[fd]
			r.mu.Unlock()
			if !ok {
				continue
			}
			r.drain(w)
		}
	}
}

// drain reads whatever is available on w's socket into its frame
// reader, completing every full MBAP frame it assembles.
func (r *epollReactor) drain(w *tcpConnWatch) {
	buf := w.readBuf.get()
	defer w.readBuf.put(buf)
	for {
		n, err := unix.Read(w.fd, buf)
		if n > 0 {
			w.buf.feed(buf[:n], w.core.demuxTCP)
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil || n == 0 {
			r.unregister(w.fd)
			return
		}
		if n < len(buf) {
			return // short read, socket drained for now
		}
	}
}
