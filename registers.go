package updi

// UPDI link characters
const (
	Synch     = 0x55 // Precedes every instruction, also used for baud detection
	Ack       = 0x40 // Returned by the target after each phase of a store
	breakChar = 0x00 // Sent at breakBaudRate to force resynchronization
)

// UPDI instruction opcodes (upper three bits plus the size fields)
const (
	opLDS  = 0x00 // Load from data space, byte address, byte data
	opSTS  = 0x40 // Store to data space, byte address, byte data
	opLDCS = 0x80 // Load from control/status space
	opSTCS = 0xc0 // Store to control/status space
	opKEY  = 0xe0 // Send a 64-bit key
	opSIB  = 0xe6 // Read the 32-byte System Information Block
)

// sibLength is the size of the System Information Block in bytes
const sibLength = 32

// UPDI control/status space registers and their bits
const (
	RegCtrlB      = 0x03
	CtrlBUPDIDis  = 0x04 // Disable UPDI, releasing the pin
	CtrlBCCDetDis = 0x08 // Disable collision detection
	CtrlBNACKDis  = 0x10

	RegOCDCtrlA = 0x04
	OCDStop     = 0x01
	OCDRun      = 0x02
	OCDSORDis   = 0x80 // Do not stop on reset

	RegOCDStatus = 0x05
	OCDStopped   = 0x01 // CPU halted, normally after a reset
	OCDMsgValid  = 0x10 // OCD message register holds an unread byte

	RegKeyStatus       = 0x07
	KeyStatusOCD       = 0x02
	KeyStatusChipErase = 0x08
	KeyStatusNVMProg   = 0x10
	KeyStatusUserRow   = 0x20

	RegResetReq   = 0x08
	ResetReqRun   = 0x00
	ResetReqReset = 0x59

	RegASICtrlA      = 0x09
	ASICtrlAClkSel16 = 0x01 // Run the UPDI clock at 16MHz

	RegSysStatus      = 0x0b
	SysStatusLock     = 0x01
	SysStatusUROWProg = 0x04
	SysStatusNVMProg  = 0x08
	SysStatusInSleep  = 0x10
	SysStatusRstSys   = 0x20

	RegOCDMessage = 0x0d // Byte written by the target to SYSCFG.OCDM
)

// Data space registers of the virtual UART. The target firmware reserves
// GPIOR0 as the flags register and GPIOR1 as the host-to-target data byte.
const (
	RegUARTFlags = 0x1c
	RegUARTRx    = 0x1d

	UARTEnable = 0x02 // Host session active
	UARTFull   = 0x01 // RX holds a byte the target has not consumed
)

// Key is a 64-bit UPDI capability key
type Key string

// Capability keys. They are sent least significant byte first, which is
// the reverse of how they read.
const (
	KeyNVMProg   Key = "NVMProg "
	KeyChipErase Key = "NVMErase"
	KeyUserRow   Key = "NVMUs&te"
	KeyOCD       Key = "OCD     "
)

// statusBit returns the RegKeyStatus bit the key unlocks
func (k Key) statusBit() (byte, bool) {
	switch k {
	case KeyNVMProg:
		return KeyStatusNVMProg, true
	case KeyChipErase:
		return KeyStatusChipErase, true
	case KeyUserRow:
		return KeyStatusUserRow, true
	case KeyOCD:
		return KeyStatusOCD, true
	default:
		return 0, false
	}
}

// wire returns the key bytes in transmission order
func (k Key) wire() []byte {
	b := []byte(k)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}

// SessionState tracks how far a UPDI session has been brought up
type SessionState int

const (
	StateUnsynchronized SessionState = iota
	StateSynchronized
	StateKeyed
	StateUARTEnabled
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnsynchronized:
		return "unsynchronized"
	case StateSynchronized:
		return "synchronized"
	case StateKeyed:
		return "keyed"
	case StateUARTEnabled:
		return "uart-enabled"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
