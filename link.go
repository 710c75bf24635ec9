package updi

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// Link is a half-duplex byte channel to a UPDI adapter
type Link interface {
	// Send writes data and, on a half-duplex link, verifies the echo.
	Send(data []byte) error
	// Recv reads up to n bytes, returning fewer if the read timeout expires.
	Recv(n int) ([]byte, error)
	// SendBreak emits a line break long enough to resynchronize the target.
	SendBreak() error
	// TrySend sends b only if the output queue is empty.
	TrySend(b byte) (bool, error)
	// TryRecv reads one byte only if input is already pending.
	TryRecv() (byte, bool, error)
	BaudRate() int
	SetBaudRate(rate int) error
	Close() error
}

// link is the termios implementation of the Link interface
type link struct {
	mu     sync.Mutex
	fd     int
	device string
	config Config
	log    *slog.Logger
	closed bool
}

// Ensure link implements Link interface at compile time
var _ Link = (*link)(nil)

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

// breakBaudRate is the rate used to stretch a single 0x00 character into a
// break: 12 bit times at 300 baud hold the line low for about 33ms, well
// beyond the longest UPDI frame at any usable rate.
const breakBaudRate = 300

// getBaudRate converts an integer baud rate to the unix constant
func getBaudRate(rate int) (uint32, error) {
	switch rate {
	case 300:
		return unix.B300, nil
	case 600:
		return unix.B600, nil
	case 1200:
		return unix.B1200, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 500000:
		return unix.B500000, nil
	case 576000:
		return unix.B576000, nil
	case 921600:
		return unix.B921600, nil
	case 1000000:
		return unix.B1000000, nil
	case 1152000:
		return unix.B1152000, nil
	case 1500000:
		return unix.B1500000, nil
	case 2000000:
		return unix.B2000000, nil
	default:
		return 0, ErrInvalidBaudRate
	}
}

// OpenLink opens device as a UPDI link. The defaults give 8E2 half duplex at
// 115200 baud, the rate every UPDI target accepts before its clock is raised.
func OpenLink(device string, opts ...Option) (Link, error) {
	config, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	// Open non-blocking so a missing carrier cannot hang the open, then
	// switch to blocking reads governed by VTIME.
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrOpen, device, classifyOpenError(err))
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w %s: %w", ErrOpen, device, ErrDeviceInUse)
	}

	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w %s: %v", ErrOpen, device, err)
	}

	if err := configurePort(fd, config); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w %s: %w", ErrOpen, device, err)
	}

	// Discard anything the adapter received before we owned it
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH)

	return &link{
		fd:     fd,
		device: device,
		config: config,
		log:    config.Logger.With("device", device),
	}, nil
}

// classifyOpenError maps an open(2) errno to one of the package sentinels
func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		return fmt.Errorf("%w (%v)", ErrDeviceNotFound, err)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w (%v)", ErrPermissionDenied, err)
	case errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w (%v)", ErrDeviceInUse, err)
	default:
		return err
	}
}

// configurePort puts the tty in raw mode with the configured framing
func configurePort(fd int, config Config) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %v", err)
	}

	termios.Cflag = unix.CS8 | unix.CREAD | unix.CLOCAL
	termios.Iflag = 0
	termios.Oflag = 0
	termios.Lflag = 0

	// VMIN=0, VTIME in deciseconds: a read returns as soon as one byte is
	// available, or empty-handed after ReadTimeout.
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = uint8(ReadTimeout.Milliseconds() / 100)

	if config.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	switch config.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	}

	if err := applySpeed(termios, config.BaudRate); err != nil {
		return err
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("failed to set termios: %v", err)
	}
	return nil
}

func applySpeed(termios *unix.Termios, rate int) error {
	speed, err := getBaudRate(rate)
	if err != nil {
		return err
	}
	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | speed
	termios.Ispeed = speed
	termios.Ospeed = speed
	return nil
}

// setSpeed changes the line rate once pending output has been transmitted
func (l *link) setSpeed(rate int) error {
	termios, err := unix.IoctlGetTermios(l.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("failed to get termios: %v", err)
	}
	if err := applySpeed(termios, rate); err != nil {
		return err
	}
	if err := unix.IoctlSetTermios(l.fd, unix.TCSETSW, termios); err != nil {
		return fmt.Errorf("failed to set baud rate %d: %v", rate, err)
	}
	return nil
}

func (l *link) trace(direction string, data []byte) {
	if l.config.Trace {
		l.log.Debug(direction, "bytes", fmt.Sprintf("% x", data))
	}
}

// Send writes data to the link
func (l *link) Send(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrPortClosed
	}
	return l.send(data)
}

func (l *link) send(data []byte) error {
	l.trace("send", data)

	for written := 0; written < len(data); {
		n, err := unix.Write(l.fd, data[written:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("write %s: %w", l.device, err)
		}
		written += n
	}

	if !l.config.HalfDuplex {
		return nil
	}

	// TX and RX share the wire: everything sent comes straight back.
	echo, err := l.recv(len(data))
	if err != nil {
		return err
	}
	if !bytes.Equal(echo, data) {
		return fmt.Errorf("%w: sent % x, got % x", ErrEchoMismatch, data, echo)
	}
	return nil
}

// Recv reads up to n bytes from the link
func (l *link) Recv(n int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrPortClosed
	}
	return l.recv(n)
}

func (l *link) recv(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		k, err := unix.Read(l.fd, buf[got:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return buf[:got], fmt.Errorf("read %s: %w", l.device, err)
		}
		if k == 0 {
			// VTIME expired
			break
		}
		got += k
	}
	l.trace("recv", buf[:got])
	return buf[:got], nil
}

// SendBreak drops to breakBaudRate, sends a zero byte and restores the rate
func (l *link) SendBreak() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrPortClosed
	}

	if err := l.setSpeed(breakBaudRate); err != nil {
		return err
	}
	if err := l.send([]byte{breakChar}); err != nil {
		return err
	}
	// TCSETSW inside setSpeed waits for the break character to leave the
	// UART before switching back.
	return l.setSpeed(l.config.BaudRate)
}

// TrySend sends b unless output is still queued in the driver
func (l *link) TrySend(b byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false, ErrPortClosed
	}

	queued, err := unix.IoctlGetInt(l.fd, unix.TIOCOUTQ)
	if err != nil {
		return false, fmt.Errorf("query output queue: %w", err)
	}
	if queued > 0 {
		return false, nil
	}
	if err := l.send([]byte{b}); err != nil {
		return false, err
	}
	return true, nil
}

// TryRecv returns one byte if input is pending, without waiting
func (l *link) TryRecv() (byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, false, ErrPortClosed
	}

	pending, err := unix.IoctlGetInt(l.fd, unix.TIOCINQ)
	if err != nil {
		return 0, false, fmt.Errorf("query input queue: %w", err)
	}
	if pending == 0 {
		return 0, false, nil
	}
	data, err := l.recv(1)
	if err != nil || len(data) == 0 {
		return 0, false, err
	}
	return data[0], true, nil
}

// BaudRate returns the current operating rate
func (l *link) BaudRate() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config.BaudRate
}

// SetBaudRate switches the link to a new operating rate
func (l *link) SetBaudRate(rate int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrPortClosed
	}
	if err := l.setSpeed(rate); err != nil {
		return err
	}
	l.config.BaudRate = rate
	return nil
}

// Close closes the link
func (l *link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrPortClosed
	}

	err := unix.Close(l.fd)
	l.closed = true
	return err
}
