package modbus

import (
	"fmt"
	"os"
	"syscall"
)

// fdToFile wraps a raw file descriptor obtained from a non-blocking
// unix.Socket connect in an *os.File, so it can be handed to
// net.FileConn to get a standard net.Conn for net.FileConn's consumers
// (the fallback reactor's blocking reads, the TCP carrier writer's
// sing/bufio vectorised writer). net.FileConn dups the descriptor, so
// the returned file must still be closed by the caller.
func fdToFile(fd int) (*os.File, error) {
	return os.NewFile(uintptr(fd), "modbus-tcp"), nil
}

// connFD recovers the live file descriptor a net.Conn built over
// fdToFile's *os.File actually owns. net.FileConn dups the descriptor
// it is handed rather than adopting it, so the integer passed into
// fdToFile is not the one conn reads and writes through once the
// original *os.File is closed. Callers that need to watch or close the
// connection's descriptor directly (the reactor's epoll registration
// and raw reads) must use this one instead.
func connFD(conn syscall.Conn) (int, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	if err := rc.Control(func(fdPtr uintptr) {
		fd = int(fdPtr)
	}); err != nil {
		return 0, err
	}
	if fd == 0 {
		return 0, fmt.Errorf("modbus: could not recover a file descriptor from connection")
	}
	return fd, nil
}
