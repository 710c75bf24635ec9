package updi

import "errors"

// Predefined error types for robust error handling
var (
	ErrOpen             = errors.New("cannot open serial port")
	ErrDeviceNotFound   = errors.New("serial device not found")
	ErrPermissionDenied = errors.New("permission denied accessing serial device")
	ErrDeviceInUse      = errors.New("serial device already in use")
	ErrInvalidBaudRate  = errors.New("invalid baud rate")
	ErrInvalidConfig    = errors.New("invalid serial configuration")
	ErrPortClosed       = errors.New("serial port is closed")
	ErrNoPorts          = errors.New("no serial ports found")

	// Link-level faults. All of them are fatal: the wire is broken, the
	// adapter is miswired or the baud rates disagree.
	ErrEchoMismatch = errors.New("no echo")
	ErrShortRead    = errors.New("short read")
	ErrNoAck        = errors.New("missing UPDI acknowledge")

	// Key exchange errors
	ErrInvalidKey  = errors.New("unknown UPDI key")
	ErrKeyRejected = errors.New("key not accepted")

	// USB-related errors
	ErrUSBInfoNotAvailable  = errors.New("USB device information not available")
	ErrUSBResetNotAvailable = errors.New("usbreset utility not available")
)
