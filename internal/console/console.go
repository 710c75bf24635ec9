// Package console turns the process's standard input into a byte source
// for a terminal session.
package console

import (
	"bufio"
	"io"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	bs  = 0x08
	lf  = 0x0a
	cr  = 0x0d
	del = 0x7f
)

// Console reads keystrokes or piped input one byte at a time
type Console struct {
	r           *bufio.Reader
	interactive bool
	mapKeys     bool

	fd    int
	state *term.State
}

// New wraps r. With mapKeys set, interactive input has Enter translated
// to LF and Backspace (DEL) to BS, which is what most firmware expects.
func New(r io.Reader, interactive, mapKeys bool) *Console {
	return &Console{
		r:           bufio.NewReader(r),
		interactive: interactive,
		mapKeys:     mapKeys,
		fd:          -1,
	}
}

// Open wraps f and, if it is a terminal, puts it into character-at-a-time
// mode without echo or signal keys. Output processing is left alone so
// target newlines still return the cursor. Close restores the terminal.
func Open(f *os.File, mapKeys bool) (*Console, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return New(f, false, mapKeys), nil
	}

	state, err := term.GetState(fd)
	if err != nil {
		return nil, err
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	termios.Iflag &^= unix.IXON | unix.IXOFF | unix.ICRNL
	termios.Lflag &^= unix.ICANON | unix.ECHO | unix.ISIG
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return nil, err
	}

	c := New(f, true, mapKeys)
	c.fd = fd
	c.state = state
	return c, nil
}

// ReadByte returns the next input byte, or io.EOF when piped input ends
func (c *Console) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err != nil {
		return 0, err
	}
	if c.interactive && c.mapKeys {
		switch b {
		case del:
			b = bs
		case cr:
			b = lf
		}
	}
	return b, nil
}

// Interactive reports whether input comes from a terminal
func (c *Console) Interactive() bool {
	return c.interactive
}

// Close restores the terminal mode Open changed
func (c *Console) Close() error {
	if c.state == nil {
		return nil
	}
	state := c.state
	c.state = nil
	return term.Restore(c.fd, state)
}
