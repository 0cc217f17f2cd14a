//go:build linux

package modbus

import (
	"os"

	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)

// baudRates maps requested integer baud rates to the termios B*
// constants the kernel understands. Unlisted rates fall back to B9600,
// the Modbus-serial default line speed.
var baudRates = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

func applyBaud(t *unix.Termios, baud int) {
	rate, ok := baudRates[baud]
	if !ok {
		rate = unix.B9600
	}
	t.Ispeed = rate
	t.Ospeed = rate
	t.Cflag &^= unix.CBAUD
	t.Cflag |= rate
}

// newFilePort wraps fd as an *os.File, which already implements
// DeadlineReadWriter (Read, Write, SetReadDeadline, SetWriteDeadline)
// directly, since fd was opened non-blocking via unix.Open.
func newFilePort(fd int) (DeadlineReadWriter, error) {
	return os.NewFile(uintptr(fd), "modbus-serial"), nil
}

// openSerialPort configures a termios-backed file descriptor for baud,
// parity, and data/stop bits (parity none implies two stop bits;
// even/odd imply one), returning it wrapped in the DeadlineReadWriter
// interface the carrier speaks.
func openSerialPort(name string, baud int, parity Parity) (DeadlineReadWriter, error) {
	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, wrapKind(KindTransportFault, err)
	}

	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, wrapKind(KindTransportFault, err)
	}

	applyBaud(termios, baud)
	termios.Cflag &^= unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CSIZE
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	switch parity {
	case ParityEven:
		termios.Cflag |= unix.PARENB
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	default:
		termios.Cflag |= unix.CSTOPB // no parity bit: two stop bits catch bit-slip instead
	}
	termios.Lflag = 0
	termios.Iflag = 0
	termios.Oflag = 0
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, termios); err != nil {
		unix.Close(fd)
		return nil, wrapKind(KindTransportFault, err)
	}

	return newFilePort(fd)
}
