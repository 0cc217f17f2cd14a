//go:build !linux

package modbus

import (
	"sync"

	"golang.org/x/sys/unix"
)

// fallbackReactor watches each TCP carrier with its own blocking-read
// goroutine rather than a single epoll instance, the same per-OS-file
// fallback shape as runZeroInc-sockstats/pkg/tcpinfo_other.go.
type fallbackReactor struct {
	mu    sync.Mutex
	conns map[int]chan struct{} // fd -> stop signal
}

func newReactor() (reactor, error) {
	return &fallbackReactor{conns: make(map[int]chan struct{})}, nil
}

// register starts a blocking read loop on its own dup of fd. fd itself
// stays non-blocking and stays owned by the carrier writer for sends; a
// dup lets this goroutine flip its own copy back to blocking mode for
// plain read(2) calls without disturbing the descriptor the writer still
// holds (the same aliasing trap fdToFile/net.FileConn have in
// openTCPCarrier — wrapping fd directly here and closing that wrapper
// would close the writer's live socket out from under it).
func (r *fallbackReactor) register(fd int, core *engineCore) error {
	dupFd, err := unix.Dup(fd)
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(dupFd, false); err != nil {
		unix.Close(dupFd)
		return err
	}

	stop := make(chan struct{})
	r.mu.Lock()
	r.conns[fd] = stop
	r.mu.Unlock()

	go func() {
		reader := newTCPFrameReader()
		readBuf := newBufferPool(4096)
		buf := readBuf.get()
		defer readBuf.put(buf)
		for {
			select {
			case <-stop:
				unix.Close(dupFd)
				return
			default:
			}
			n, err := unix.Read(dupFd, buf)
			if n > 0 {
				reader.feed(buf[:n], core.demuxTCP)
			}
			if err != nil || n == 0 {
				r.unregister(fd)
				unix.Close(dupFd)
				return
			}
		}
	}()
	return nil
}

func (r *fallbackReactor) unregister(fd int) {
	r.mu.Lock()
	stop, ok := r.conns[fd]
	if ok {
		delete(r.conns, fd)
	}
	r.mu.Unlock()
	if ok {
		close(stop)
	}
}

func (r *fallbackReactor) close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[int]chan struct{})
	r.mu.Unlock()
	for _, stop := range conns {
		close(stop)
	}
}
