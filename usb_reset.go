package updi

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// reenumerateTimeout bounds how long ResetAdapter waits for the port to
// come back after a USB reset
const reenumerateTimeout = 5 * time.Second

// ResetAdapter performs a USB-level reset of the adapter behind portPath.
// Cheap USB-serial bridges used as UPDI adapters occasionally wedge after
// a target is unplugged mid-session; a bus reset recovers them without
// replugging.
//
// Requires the usbreset utility (usbutils) and, usually, root. Returns
// ErrUSBInfoNotAvailable for ports that are not USB devices and
// ErrUSBResetNotAvailable if usbreset is missing.
func ResetAdapter(ctx context.Context, portPath string) error {
	info, err := GetPortInfo(portPath)
	if err != nil {
		return fmt.Errorf("failed to get port info: %w", err)
	}

	usbPath, err := usbDevicePath(info.BusNumber, info.DeviceNumber)
	if err != nil {
		return err
	}

	if !IsUSBResetAvailable() {
		return ErrUSBResetNotAvailable
	}

	cmd := exec.CommandContext(ctx, "usbreset", usbPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("usbreset failed: %w (output: %s)", err, string(output))
	}

	return waitForPort(ctx, portPath, reenumerateTimeout)
}

// ResetAdapterBySerial resets the adapter with the given USB serial number.
// Useful when the port path is not stable across replugs.
func ResetAdapterBySerial(ctx context.Context, serialNumber string) error {
	ports, err := ListPorts()
	if err != nil {
		return err
	}

	for _, portPath := range ports {
		info, err := GetPortInfo(portPath)
		if err != nil {
			continue
		}
		if info.SerialNumber == serialNumber {
			return ResetAdapter(ctx, portPath)
		}
	}

	return fmt.Errorf("device with serial %s not found", serialNumber)
}

// IsUSBResetAvailable checks if usbreset utility is available in PATH
func IsUSBResetAvailable() bool {
	_, err := exec.LookPath("usbreset")
	return err == nil
}

// usbDevicePath formats sysfs bus and device numbers the way usbreset
// expects them: "BBB/DDD", zero padded
func usbDevicePath(bus, device string) (string, error) {
	b, err := strconv.Atoi(bus)
	if err != nil {
		return "", ErrUSBInfoNotAvailable
	}
	d, err := strconv.Atoi(device)
	if err != nil {
		return "", ErrUSBInfoNotAvailable
	}
	return fmt.Sprintf("%03d/%03d", b, d), nil
}

// waitForPort polls until portPath is a character device again
func waitForPort(ctx context.Context, portPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if isCharacterDevice(portPath) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s did not reappear after reset: %w", portPath, ctx.Err())
		case <-ticker.C:
		}
	}
}
