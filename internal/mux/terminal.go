// Package mux joins a console to a virtual UART: one pump forwards console
// input to the target, the other copies target output to the console, and a
// single lock keeps their register exchanges from interleaving.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultEscape is Ctrl-E
	DefaultEscape = 0x05

	cmdExit  = 'e'
	cmdReset = 'r'

	pollInterval  = 10 * time.Millisecond
	retryInterval = 10 * time.Millisecond
	idleThreshold = 250 * time.Millisecond
)

var ErrLogOpen = errors.New("cannot open log file")

// Mailbox is the hardware side of a terminal session
type Mailbox interface {
	// TrySend reports false if the target has not consumed the previous byte.
	TrySend(b byte) (bool, error)
	// TryRecv reports false if the target has nothing to send.
	TryRecv() (byte, bool, error)
	Reset() error
}

// Source is the console side of a terminal session
type Source interface {
	// ReadByte blocks for the next input byte and returns io.EOF at the end
	// of piped input.
	ReadByte() (byte, error)
	// Interactive reports whether a person is typing. Escape commands are
	// only recognized in interactive sessions, and keystrokes the target
	// cannot take are dropped rather than retried.
	Interactive() bool
}

// Stats counts the traffic of one session
type Stats struct {
	Sent     uint64
	Received uint64
	Dropped  uint64
	Resets   uint64
}

// Terminal multiplexes a console and a Mailbox
type Terminal struct {
	mb     Mailbox
	in     Source
	out    io.Writer
	log    io.Writer
	logger *slog.Logger
	escape byte
	armed  bool

	mu   sync.Mutex  // held around every Mailbox call
	idle atomic.Bool // set by the reader once the target has gone quiet

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
	resets   atomic.Uint64
}

// Option configures a Terminal
type Option func(*Terminal)

// WithEscape sets the byte that introduces an escape command
func WithEscape(b byte) Option {
	return func(t *Terminal) {
		t.escape = b
	}
}

// WithLog copies everything received from the target to w
func WithLog(w io.Writer) Option {
	return func(t *Terminal) {
		t.log = w
	}
}

// WithLogger sets the logger for session diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(t *Terminal) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a terminal session between in/out and mb
func New(mb Mailbox, in Source, out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		mb:     mb,
		in:     in,
		out:    out,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		escape: DefaultEscape,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.armed = in.Interactive()
	return t
}

// OpenLog opens path for appending received bytes
func OpenLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrLogOpen, path, err)
	}
	return f, nil
}

// Stats returns the session counters
func (t *Terminal) Stats() Stats {
	return Stats{
		Sent:     t.sent.Load(),
		Received: t.received.Load(),
		Dropped:  t.dropped.Load(),
		Resets:   t.resets.Load(),
	}
}

type unit struct {
	b   byte
	err error
}

// Run pumps bytes in both directions until the input ends and the target
// has gone quiet, the exit command is typed, a pump fails, or ctx is
// cancelled. Cancellation is a normal way to end a session and returns nil.
func (t *Terminal) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.idle.Store(false)
	g, gctx := errgroup.WithContext(ctx)

	// Console reads can block forever, so they happen on their own
	// goroutine where they cannot hold up shutdown. A read still pending
	// when Run returns is abandoned.
	units := make(chan unit)
	go func() {
		for {
			b, err := t.in.ReadByte()
			select {
			case units <- unit{b, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	writerDone := make(chan struct{})
	g.Go(func() error {
		defer close(writerDone)
		return t.writer(gctx, units)
	})
	g.Go(func() error {
		return t.reader(gctx, writerDone)
	})

	err := g.Wait()
	t.logger.Debug("terminal session ended",
		"sent", t.sent.Load(),
		"received", t.received.Load(),
		"dropped", t.dropped.Load(),
		"resets", t.resets.Load(),
	)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (t *Terminal) next(ctx context.Context, units <-chan unit) (byte, error) {
	select {
	case u := <-units:
		return u.b, u.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (t *Terminal) writer(ctx context.Context, units <-chan unit) error {
	for {
		b, err := t.next(ctx, units)
		if err == io.EOF {
			return t.drain(ctx)
		}
		if err != nil {
			return err
		}

		if t.armed && b == t.escape {
			cmd, err := t.next(ctx, units)
			if err == io.EOF {
				return t.drain(ctx)
			}
			if err != nil {
				return err
			}

			switch cmd {
			case cmdExit:
				t.logger.Debug("exit requested")
				return nil
			case cmdReset:
				if err := t.reset(); err != nil {
					return err
				}
				continue
			case t.escape:
				// Sent as a literal byte below
			default:
				continue
			}
		}

		if err := t.transmit(ctx, b); err != nil {
			return err
		}
	}
}

func (t *Terminal) reset() error {
	t.mu.Lock()
	err := t.mb.Reset()
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	t.resets.Add(1)
	t.logger.Debug("target reset")
	return nil
}

// transmit hands b to the target. Interactive input the target is not
// ready for is dropped; piped input is retried until it is taken.
func (t *Terminal) transmit(ctx context.Context, b byte) error {
	for {
		t.mu.Lock()
		sent, err := t.mb.TrySend(b)
		t.mu.Unlock()
		if err != nil {
			return err
		}
		if sent {
			t.sent.Add(1)
			return nil
		}

		if t.armed {
			t.dropped.Add(1)
			t.logger.Debug("target busy, keystroke dropped", "byte", b)
			return nil
		}
		if err := sleep(ctx, retryInterval); err != nil {
			return err
		}
	}
}

// drain waits until the reader has seen the target go quiet
func (t *Terminal) drain(ctx context.Context) error {
	for !t.idle.Load() {
		if err := sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
	return nil
}

func (t *Terminal) reader(ctx context.Context, writerDone <-chan struct{}) error {
	var (
		lastActivity = time.Now()
		lastByte     byte
		emitted      bool
	)

	for {
		select {
		case <-writerDone:
			if emitted && lastByte != '\n' {
				if _, err := t.out.Write([]byte{'\n'}); err != nil {
					return fmt.Errorf("write console: %w", err)
				}
			}
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		t.mu.Lock()
		b, ok, err := t.mb.TryRecv()
		t.mu.Unlock()
		if err != nil {
			return err
		}

		if ok {
			if _, err := t.out.Write([]byte{b}); err != nil {
				return fmt.Errorf("write console: %w", err)
			}
			if t.log != nil {
				if _, err := t.log.Write([]byte{b}); err != nil {
					return fmt.Errorf("write log: %w", err)
				}
			}
			t.received.Add(1)
			lastByte, emitted = b, true
			lastActivity = time.Now()
			t.idle.Store(false)
			continue
		}

		select {
		case <-time.After(pollInterval):
		case <-writerDone:
		case <-ctx.Done():
		}
		if time.Since(lastActivity) > idleThreshold {
			t.idle.Store(true)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
