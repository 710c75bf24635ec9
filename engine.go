package updi

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"
)

// resetPollBudget bounds how long Reset waits for the lock bit to clear
const resetPollBudget = 100 * time.Millisecond

// maxPurge caps how many stale bytes Connect discards before synchronizing
const maxPurge = 256

// Engine speaks the UPDI instruction set over a Link. It is not safe for
// concurrent use: every call is one complete, non-reentrant exchange.
type Engine struct {
	link  Link
	log   *slog.Logger
	state SessionState
}

// Dial opens device and brings up a UPDI session at baud. The link starts
// at no more than MaxInitialBaudRate and is raised during Connect.
func Dial(device string, baud int, opts ...Option) (*Engine, error) {
	initial := min(baud, MaxInitialBaudRate)
	l, err := OpenLink(device, append(opts[:len(opts):len(opts)], WithBaudRate(initial))...)
	if err != nil {
		return nil, err
	}

	e, err := Connect(l, baud, opts...)
	if err != nil {
		l.Close()
		return nil, err
	}
	return e, nil
}

// Connect synchronizes with the target over an open link: two breaks to
// reset the target's baud detection, collision detection off (the echo
// check replaces it), and, above MaxInitialBaudRate, the 16MHz UPDI clock
// followed by the switch to the requested rate.
func Connect(l Link, baud int, opts ...Option) (*Engine, error) {
	config, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	if baud > MaxInitialBaudRate {
		if _, err := getBaudRate(baud); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		link:  l,
		log:   config.Logger,
		state: StateUnsynchronized,
	}

	if err := e.purge(); err != nil {
		return nil, err
	}
	for i := 0; i < 2; i++ {
		if err := l.SendBreak(); err != nil {
			return nil, fmt.Errorf("send break: %w", err)
		}
	}
	if err := e.WriteControl(RegCtrlB, CtrlBCCDetDis); err != nil {
		return nil, err
	}
	e.state = StateSynchronized

	if baud > MaxInitialBaudRate {
		if err := e.WriteControl(RegASICtrlA, ASICtrlAClkSel16); err != nil {
			return nil, err
		}
		if err := l.SetBaudRate(baud); err != nil {
			return nil, fmt.Errorf("switch to %d baud: %w", baud, err)
		}
	}

	e.log.Debug("UPDI session synchronized", "baud", l.BaudRate())
	return e, nil
}

// purge drops bytes left in the receive buffer by an earlier session
func (e *Engine) purge() error {
	for i := 0; i < maxPurge; i++ {
		_, ok, err := e.link.TryRecv()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return nil
}

// State returns how far the session has been brought up
func (e *Engine) State() SessionState {
	return e.state
}

// advance moves the session state forward; it never moves backwards
func (e *Engine) advance(to SessionState) {
	if to > e.state {
		e.state = to
	}
}

func (e *Engine) instr(data ...byte) error {
	return e.link.Send(append([]byte{Synch}, data...))
}

func (e *Engine) recv(n int) ([]byte, error) {
	data, err := e.link.Recv(n)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrShortRead, n, len(data))
	}
	return data, nil
}

func (e *Engine) expectAck(phase string) error {
	ack, err := e.recv(1)
	if err != nil {
		return err
	}
	if ack[0] != Ack {
		return fmt.Errorf("%w after %s: got %02x", ErrNoAck, phase, ack[0])
	}
	return nil
}

// WriteControl stores value in a UPDI control/status register (STCS)
func (e *Engine) WriteControl(addr, value byte) error {
	return e.instr(opSTCS|addr&0x0f, value)
}

// ReadControl loads a UPDI control/status register (LDCS)
func (e *Engine) ReadControl(addr byte) (byte, error) {
	if err := e.instr(opLDCS | addr&0x0f); err != nil {
		return 0, err
	}
	data, err := e.recv(1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// WriteData stores a byte in data space (STS). The target acknowledges the
// address phase and the data phase separately.
func (e *Engine) WriteData(addr, value byte) error {
	if err := e.instr(opSTS, addr); err != nil {
		return err
	}
	if err := e.expectAck("address"); err != nil {
		return err
	}
	if err := e.link.Send([]byte{value}); err != nil {
		return err
	}
	return e.expectAck("data")
}

// ReadData loads a byte from data space (LDS)
func (e *Engine) ReadData(addr byte) (byte, error) {
	if err := e.instr(opLDS, addr); err != nil {
		return 0, err
	}
	data, err := e.recv(1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// Identify reads the System Information Block, e.g.
// "tinyAVR P:0D:0-3M2 (01.59B20.0)".
func (e *Engine) Identify() (string, error) {
	if err := e.instr(opSIB); err != nil {
		return "", err
	}
	sib, err := e.recv(sibLength)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(sib, "\x00 ")), nil
}

// RequestKey sends a capability key and checks that the target accepted it
func (e *Engine) RequestKey(key Key) error {
	bit, ok := key.statusBit()
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKey, string(key))
	}

	if err := e.instr(append([]byte{opKEY}, key.wire()...)...); err != nil {
		return err
	}
	status, err := e.ReadControl(RegKeyStatus)
	if err != nil {
		return err
	}
	if status&bit == 0 {
		return fmt.Errorf("%w: %q (key status %02x)", ErrKeyRejected, string(key), status)
	}

	e.advance(StateKeyed)
	e.log.Debug("UPDI key accepted", "key", string(key), "status", status)
	return nil
}

// Reset pulses the reset request and waits, within resetPollBudget, for the
// system to come out of reset. Running out of budget is not an error: the
// reset has been issued either way.
func (e *Engine) Reset() error {
	if err := e.WriteControl(RegResetReq, ResetReqReset); err != nil {
		return err
	}
	if err := e.WriteControl(RegResetReq, ResetReqRun); err != nil {
		return err
	}

	deadline := time.Now().Add(resetPollBudget)
	for time.Now().Before(deadline) {
		status, err := e.ReadControl(RegSysStatus)
		if err != nil {
			return err
		}
		if status&SysStatusLock == 0 {
			return nil
		}
	}
	e.log.Debug("lock status still set after reset", "budget", resetPollBudget)
	return nil
}

// Close disables UPDI on the target and closes the link. Disabling UPDI is
// best effort; a failure is logged and otherwise ignored.
func (e *Engine) Close() error {
	if e.state == StateClosed {
		return nil
	}

	if e.state >= StateSynchronized {
		if err := e.WriteControl(RegCtrlB, CtrlBUPDIDis); err != nil {
			e.log.Debug("disable UPDI failed", "error", err)
		}
	}
	e.state = StateClosed
	return e.link.Close()
}
