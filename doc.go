// Package updi talks to AVR microcontrollers over UPDI, their single-wire
// debug interface, and runs a virtual UART across it so a target without
// a spare serial port can still print to a host terminal.
//
// The UPDI pin is reached through a plain USB-serial adapter with TX and
// RX joined through a resistor. The line runs 8E2 half duplex, so every
// byte sent is read back and checked.
//
// # Basic Usage
//
//	engine, err := updi.Dial("/dev/ttyUSB0", updi.DefaultBaudRate)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	uart, err := updi.NewVirtualUART(engine, true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer uart.Close()
//
//	if b, ok, err := uart.TryRecv(); err == nil && ok {
//	    fmt.Printf("%c", b)
//	}
//
// # Configuration Options
//
//	engine, err := updi.Dial("/dev/ttyUSB0", 230400,
//	    updi.WithTrace(true),
//	    updi.WithLogger(logger),
//	)
//
// Sessions always start at MaxInitialBaudRate; faster rates switch the
// target's UPDI clock to 16 MHz first.
//
// # Target Firmware
//
// The firmware side polls two GPIO registers for host-to-target bytes and
// writes target-to-host bytes to SYSCFG.OCDM:
//
//	RegUARTFlags (GPIOR0)  UARTEnable: host attached, UARTFull: RegUARTRx holds a byte
//	RegUARTRx    (GPIOR1)  byte from the host
//	OCD message            byte to the host, valid until the host reads it
//
// # Port Discovery
//
//	ports, err := updi.ListPorts()
//	for _, portPath := range ports {
//	    info, _ := updi.GetPortInfo(portPath)
//	    fmt.Printf("%s: %s (VID=%s PID=%s Serial=%s)\n",
//	        info.Path, info.Description, info.VendorID, info.ProductID, info.SerialNumber)
//	}
//
// A wedged USB adapter can be reset with ResetAdapter, which needs the
// usbreset utility and usually root.
//
// # Error Handling
//
// Errors wrap package sentinels; use errors.Is:
//
//	if errors.Is(err, updi.ErrEchoMismatch) {
//	    // Nothing came back: TX and RX are not joined, or no adapter
//	}
package updi
