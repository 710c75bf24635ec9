package mux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeMailbox records what the terminal does to the target
type fakeMailbox struct {
	mu       sync.Mutex
	full     bool   // TrySend refuses until cleared
	loopback bool   // every byte sent comes back
	sent     []byte
	inbound  []byte
	resets   int
	recvErr  error

	busy     atomic.Bool
	overlaps atomic.Int32 // calls made while another was in progress
}

func (m *fakeMailbox) enter() {
	if !m.busy.CompareAndSwap(false, true) {
		m.overlaps.Add(1)
	}
	m.mu.Lock()
}

func (m *fakeMailbox) leave() {
	m.busy.Store(false)
	m.mu.Unlock()
}

func (m *fakeMailbox) TrySend(b byte) (bool, error) {
	m.enter()
	defer m.leave()

	if m.full {
		return false, nil
	}
	m.sent = append(m.sent, b)
	if m.loopback {
		m.inbound = append(m.inbound, b)
	}
	return true, nil
}

func (m *fakeMailbox) TryRecv() (byte, bool, error) {
	m.enter()
	defer m.leave()

	if m.recvErr != nil {
		return 0, false, m.recvErr
	}
	if len(m.inbound) == 0 {
		return 0, false, nil
	}
	b := m.inbound[0]
	m.inbound = m.inbound[1:]
	return b, true, nil
}

func (m *fakeMailbox) Reset() error {
	m.enter()
	defer m.leave()

	m.resets++
	return nil
}

func (m *fakeMailbox) setFull(full bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.full = full
}

func (m *fakeMailbox) post(b byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = append(m.inbound, b)
}

func (m *fakeMailbox) sentBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.sent...)
}

// scriptSource plays back fixed console input, then reports EOF. With hang
// set it blocks after the script instead, like an idle keyboard.
type scriptSource struct {
	data        []byte
	interactive bool
	hang        bool
}

func (s *scriptSource) ReadByte() (byte, error) {
	if len(s.data) == 0 {
		if s.hang {
			select {}
		}
		return 0, io.EOF
	}
	b := s.data[0]
	s.data = s.data[1:]
	return b, nil
}

func (s *scriptSource) Interactive() bool {
	return s.interactive
}

func runTerminal(t *testing.T, term *Terminal) time.Duration {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, term.Run(ctx))
	return time.Since(start)
}

func TestEscapeReset(t *testing.T) {
	mb := &fakeMailbox{}
	in := &scriptSource{data: []byte{DefaultEscape, 'r'}, interactive: true}

	term := New(mb, in, io.Discard)
	runTerminal(t, term)

	require.Equal(t, 1, mb.resets)
	require.Empty(t, mb.sentBytes())
	require.Equal(t, uint64(1), term.Stats().Resets)
}

func TestEscapeTwiceSendsOneTrigger(t *testing.T) {
	mb := &fakeMailbox{}
	in := &scriptSource{data: []byte{DefaultEscape, DefaultEscape}, interactive: true}

	runTerminal(t, New(mb, in, io.Discard))

	require.Equal(t, []byte{DefaultEscape}, mb.sentBytes())
}

func TestEscapeExit(t *testing.T) {
	mb := &fakeMailbox{}
	in := &scriptSource{data: []byte{'a', DefaultEscape, 'e', 'b'}, interactive: true}

	elapsed := runTerminal(t, New(mb, in, io.Discard))

	require.Equal(t, []byte{'a'}, mb.sentBytes())
	require.Less(t, elapsed, idleThreshold, "exit must not wait for the target to go quiet")
}

func TestEscapeUnknownCommandDiscarded(t *testing.T) {
	mb := &fakeMailbox{}
	in := &scriptSource{data: []byte{DefaultEscape, 'x', 'a'}, interactive: true}

	runTerminal(t, New(mb, in, io.Discard))

	require.Equal(t, []byte{'a'}, mb.sentBytes())
}

func TestEscapeCustomTrigger(t *testing.T) {
	mb := &fakeMailbox{}
	in := &scriptSource{data: []byte{DefaultEscape, 0x01, 'r'}, interactive: true}

	runTerminal(t, New(mb, in, io.Discard, WithEscape(0x01)))

	require.Equal(t, []byte{DefaultEscape}, mb.sentBytes())
	require.Equal(t, 1, mb.resets)
}

func TestEscapeDisabledForBatch(t *testing.T) {
	mb := &fakeMailbox{}
	in := &scriptSource{data: []byte{DefaultEscape, 'e', DefaultEscape, 'r'}}

	runTerminal(t, New(mb, in, io.Discard))

	require.Equal(t, []byte{DefaultEscape, 'e', DefaultEscape, 'r'}, mb.sentBytes())
	require.Zero(t, mb.resets)
}

func TestEscapeFollowedByEOF(t *testing.T) {
	mb := &fakeMailbox{}
	in := &scriptSource{data: []byte{'a', DefaultEscape}, interactive: true}

	runTerminal(t, New(mb, in, io.Discard))

	require.Equal(t, []byte{'a'}, mb.sentBytes())
}

func TestBatchRetriesUntilDelivered(t *testing.T) {
	mb := &fakeMailbox{full: true}
	in := &scriptSource{data: []byte("12345")}
	term := New(mb, in, io.Discard)

	done := make(chan error, 1)
	go func() { done <- term.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	require.Empty(t, mb.sentBytes(), "nothing may be sent while the mailbox is full")

	mb.setFull(false)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("terminal did not finish after the mailbox cleared")
	}
	require.Equal(t, []byte("12345"), mb.sentBytes())
	require.Zero(t, term.Stats().Dropped)
}

func TestInteractiveDropsWhenFull(t *testing.T) {
	mb := &fakeMailbox{full: true}
	in := &scriptSource{data: []byte("ab"), interactive: true}
	term := New(mb, in, io.Discard)

	runTerminal(t, term)

	require.Empty(t, mb.sentBytes())
	require.Equal(t, uint64(2), term.Stats().Dropped)
}

func TestLoopbackToConsoleAndLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "session.log")
	require.NoError(t, os.WriteFile(logPath, []byte("earlier\n"), 0644))

	logFile, err := OpenLog(logPath)
	require.NoError(t, err)

	mb := &fakeMailbox{loopback: true}
	in := &scriptSource{data: []byte("hello\nworld")}
	var out bytes.Buffer

	term := New(mb, in, &out, WithLog(logFile))
	runTerminal(t, term)
	require.NoError(t, logFile.Close())

	require.Equal(t, "hello\nworld\n", out.String(), "a missing final newline is added")

	logged, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Equal(t, "earlier\nhello\nworld", string(logged))

	stats := term.Stats()
	require.Equal(t, uint64(11), stats.Sent)
	require.Equal(t, uint64(11), stats.Received)
	require.Zero(t, mb.overlaps.Load(), "mailbox calls must never overlap")
}

func TestNoNewlineWithoutOutput(t *testing.T) {
	mb := &fakeMailbox{}
	var out bytes.Buffer

	runTerminal(t, New(mb, &scriptSource{}, &out))

	require.Empty(t, out.String())
}

func TestOpenLogFailure(t *testing.T) {
	_, err := OpenLog(filepath.Join(t.TempDir(), "missing", "session.log"))
	require.ErrorIs(t, err, ErrLogOpen)
}

func TestIdleSeededBusy(t *testing.T) {
	mb := &fakeMailbox{}

	elapsed := runTerminal(t, New(mb, &scriptSource{}, io.Discard))

	require.GreaterOrEqual(t, elapsed, idleThreshold,
		"end of input with no traffic must still wait one idle interval")
}

func TestIdleWaitsForTraffic(t *testing.T) {
	mb := &fakeMailbox{}
	term := New(mb, &scriptSource{}, io.Discard)

	go func() {
		time.Sleep(150 * time.Millisecond)
		mb.post('x')
	}()

	elapsed := runTerminal(t, term)

	require.GreaterOrEqual(t, elapsed, 150*time.Millisecond+idleThreshold,
		"activity must restart the idle interval")
	require.Equal(t, uint64(1), term.Stats().Received)
}

func TestReaderErrorEndsSession(t *testing.T) {
	linkErr := errors.New("short read")
	mb := &fakeMailbox{recvErr: linkErr}
	in := &scriptSource{interactive: true, hang: true}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := New(mb, in, io.Discard).Run(ctx)
	require.ErrorIs(t, err, linkErr)
	require.NoError(t, ctx.Err(), "a blocked console must not hold up a failed session")
}

func TestCancelEndsSession(t *testing.T) {
	mb := &fakeMailbox{}
	in := &scriptSource{interactive: true, hang: true}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	require.NoError(t, New(mb, in, io.Discard).Run(ctx))
}
