package updi

import (
	"fmt"
	"log/slog"
)

// VirtualUART carries a byte stream over two one-deep mailboxes in the
// target. Host-to-target bytes go through RegUARTRx, gated by UARTFull in
// RegUARTFlags; target-to-host bytes arrive in the OCD message register,
// gated by OCDMsgValid.
//
// Like the Engine it drives, a VirtualUART must not be used concurrently.
type VirtualUART struct {
	engine     *Engine
	log        *slog.Logger
	recoveries int
	closed     bool
}

// NewVirtualUART unlocks on-chip debug on the target, optionally resets it,
// and raises UARTEnable so the firmware starts using the mailboxes.
func NewVirtualUART(engine *Engine, resetFirst bool) (*VirtualUART, error) {
	if err := engine.RequestKey(KeyOCD); err != nil {
		return nil, err
	}
	if resetFirst {
		if err := engine.Reset(); err != nil {
			return nil, fmt.Errorf("reset target: %w", err)
		}
	}
	if err := engine.WriteData(RegUARTFlags, UARTEnable); err != nil {
		return nil, fmt.Errorf("enable virtual UART: %w", err)
	}
	engine.advance(StateUARTEnabled)

	return &VirtualUART{
		engine: engine,
		log:    engine.log,
	}, nil
}

// TrySend hands b to the target if the previous byte has been consumed.
// It reports false, without error, while the mailbox is still full.
func (u *VirtualUART) TrySend(b byte) (bool, error) {
	flags, err := u.engine.ReadData(RegUARTFlags)
	if err != nil {
		return false, err
	}
	if flags&UARTFull != 0 {
		return false, nil
	}

	if err := u.engine.WriteData(RegUARTRx, b); err != nil {
		return false, err
	}
	if err := u.engine.WriteData(RegUARTFlags, UARTEnable|UARTFull); err != nil {
		return false, err
	}
	return true, nil
}

// TryRecv returns the target's pending message byte, if any. A CPU halted
// by a reset is resumed first: its UART flags were cleared by the reset,
// so they are re-enabled before the CPU runs again.
func (u *VirtualUART) TryRecv() (byte, bool, error) {
	status, err := u.engine.ReadControl(RegOCDStatus)
	if err != nil {
		return 0, false, err
	}

	if status&OCDStopped != 0 {
		if err := u.engine.WriteData(RegUARTFlags, UARTEnable); err != nil {
			return 0, false, err
		}
		if err := u.engine.WriteControl(RegOCDCtrlA, OCDRun); err != nil {
			return 0, false, err
		}
		u.recoveries++
		u.log.Debug("resumed halted target", "recoveries", u.recoveries)
	}

	if status&OCDMsgValid == 0 {
		return 0, false, nil
	}
	b, err := u.engine.ReadControl(RegOCDMessage)
	if err != nil {
		return 0, false, err
	}
	return b, true, nil
}

// Reset resets the target. The next TryRecv resumes it if it halts.
func (u *VirtualUART) Reset() error {
	return u.engine.Reset()
}

// Recoveries returns how many times TryRecv has resumed a halted CPU
func (u *VirtualUART) Recoveries() int {
	return u.recoveries
}

// Close tells the firmware the host has gone. It is best effort: a failure
// is logged at debug level and not returned.
func (u *VirtualUART) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true

	if err := u.engine.WriteData(RegUARTFlags, 0); err != nil {
		u.log.Debug("disable virtual UART failed", "error", err)
	}
	return nil
}
