package updi

import (
	"sync"
)

// simTarget is an in-memory UPDI target behind a Link. It decodes the
// instructions the engine sends and queues the bytes a real device would
// answer with, so engine and virtual UART tests run without hardware.
type simTarget struct {
	mu sync.Mutex

	cs   [16]byte       // control/status space
	ds   map[byte]byte  // data space
	sib  string         // System Information Block
	keys map[Key]bool   // keys the target accepts
	rx   []byte         // answer bytes waiting for Recv
	sent [][]byte       // every Send, in order
	msgs []byte         // target-to-host OCD messages

	stale     []byte // input pending before the session starts
	storeAddr int    // address of an STS waiting for its data byte, or -1

	ack        byte // value answered after each STS phase
	shortReads bool // drop every answer, as a dead wire would

	stopped      bool // CPU halted
	haltOnReset  bool // halt the CPU on every reset
	lockOnReset  int  // SYS_STATUS polls that report LOCKSTATUS after a reset
	lockPolls    int
	consume      bool   // firmware takes RX as soon as FULL is set
	consumed     []byte // bytes the firmware took from RX
	resets       int
	breaks       int
	baud         int
	closed       bool
}

var _ Link = (*simTarget)(nil)

func newSimTarget() *simTarget {
	return &simTarget{
		ds:        map[byte]byte{},
		sib:       "tinyAVR P:0D:0-3M2 (01.59B20.0)\x00",
		keys:      map[Key]bool{KeyOCD: true},
		storeAddr: -1,
		ack:       Ack,
		baud:      MaxInitialBaudRate,
	}
}

func (s *simTarget) answer(b ...byte) {
	if !s.shortReads {
		s.rx = append(s.rx, b...)
	}
}

func (s *simTarget) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrPortClosed
	}
	s.sent = append(s.sent, append([]byte(nil), data...))

	if s.storeAddr >= 0 {
		s.store(byte(s.storeAddr), data[0])
		s.storeAddr = -1
		s.answer(s.ack)
		return nil
	}
	if len(data) < 2 || data[0] != Synch {
		return nil
	}

	op := data[1]
	switch {
	case op == opSIB:
		sib := make([]byte, sibLength)
		copy(sib, s.sib)
		s.answer(sib...)
	case op == opKEY:
		key := Key(data[2:10])
		key = Key(key.wire())
		if bit, ok := key.statusBit(); ok && s.keys[key] {
			s.cs[RegKeyStatus] |= bit
		}
	case op == opLDS:
		s.answer(s.ds[data[2]])
	case op == opSTS:
		s.storeAddr = int(data[2])
		s.answer(s.ack)
	case op&0xf0 == opLDCS:
		s.answer(s.loadControl(op & 0x0f))
	case op&0xf0 == opSTCS:
		s.storeControl(op&0x0f, data[2])
	}
	return nil
}

func (s *simTarget) store(addr, value byte) {
	s.ds[addr] = value
	if addr == RegUARTFlags && value&UARTFull != 0 && s.consume {
		s.consumed = append(s.consumed, s.ds[RegUARTRx])
		s.ds[addr] &^= UARTFull
	}
}

func (s *simTarget) loadControl(reg byte) byte {
	switch reg {
	case RegOCDStatus:
		var status byte
		if s.stopped {
			status |= OCDStopped
		}
		if len(s.msgs) > 0 {
			status |= OCDMsgValid
		}
		return status
	case RegOCDMessage:
		if len(s.msgs) == 0 {
			return 0
		}
		b := s.msgs[0]
		s.msgs = s.msgs[1:]
		return b
	case RegSysStatus:
		if s.lockPolls > 0 {
			s.lockPolls--
			return SysStatusLock
		}
		return 0
	default:
		return s.cs[reg]
	}
}

func (s *simTarget) storeControl(reg, value byte) {
	s.cs[reg] = value
	switch reg {
	case RegResetReq:
		if value == ResetReqReset {
			s.resets++
			s.ds[RegUARTFlags] = 0
			s.stopped = s.haltOnReset
			s.lockPolls = s.lockOnReset
		}
	case RegOCDCtrlA:
		if value&OCDRun != 0 {
			s.stopped = false
		}
	}
}

func (s *simTarget) Recv(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrPortClosed
	}
	n = min(n, len(s.rx))
	data := s.rx[:n]
	s.rx = s.rx[n:]
	return data, nil
}

func (s *simTarget) SendBreak() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.breaks++
	s.storeAddr = -1
	return nil
}

func (s *simTarget) TrySend(b byte) (bool, error) {
	return true, s.Send([]byte{b})
}

func (s *simTarget) TryRecv() (byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.stale) == 0 {
		return 0, false, nil
	}
	b := s.stale[0]
	s.stale = s.stale[1:]
	return b, true, nil
}

func (s *simTarget) BaudRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baud
}

func (s *simTarget) SetBaudRate(rate int) error {
	if _, err := getBaudRate(rate); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baud = rate
	return nil
}

func (s *simTarget) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrPortClosed
	}
	s.closed = true
	return nil
}

// post queues a byte the target firmware writes to the OCD message register
func (s *simTarget) post(b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, b)
}

// flags reads the UART flags register the way the firmware sees it
func (s *simTarget) flags() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ds[RegUARTFlags]
}

// frames returns a copy of every Send since the last call
func (s *simTarget) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.sent
	s.sent = nil
	return f
}
