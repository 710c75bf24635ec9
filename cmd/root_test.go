package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/allbin/go-updi"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name string
		args []string
		port string
		baud int
	}{
		{"defaults", nil, "", updi.DefaultBaudRate},
		{"port only", []string{"/dev/ttyUSB1"}, "/dev/ttyUSB1", updi.DefaultBaudRate},
		{"baud only", []string{"230400"}, "", 230400},
		{"port and baud", []string{"/dev/ttyACM0", "115200"}, "/dev/ttyACM0", 115200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, baud, err := parseTarget(tt.args, "", updi.DefaultBaudRate)
			require.NoError(t, err)
			require.Equal(t, tt.port, port)
			require.Equal(t, tt.baud, baud)
		})
	}
}

func TestParseTargetBadBaud(t *testing.T) {
	_, _, err := parseTarget([]string{"/dev/ttyUSB0", "fast"}, "", updi.DefaultBaudRate)
	require.True(t, errors.Is(err, updi.ErrInvalidBaudRate))
}

func TestEscapeByte(t *testing.T) {
	b, err := escapeByte(5)
	require.NoError(t, err)
	require.Equal(t, byte(0x05), b)

	_, err = escapeByte(32)
	require.Error(t, err)
	_, err = escapeByte(-1)
	require.Error(t, err)
}

func TestBanner(t *testing.T) {
	require.Contains(t, banner(0x05), "^E+e")
	require.Contains(t, banner(0x05), "^E+^E")
	require.Contains(t, banner(0x01), "^A+r")
}

func TestRenderSimple(t *testing.T) {
	var buf bytes.Buffer
	renderSimple(&buf, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"})
	require.Equal(t, "/dev/ttyUSB0\n/dev/ttyUSB1\n", buf.String())
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	renderTable(&buf, []string{"/dev/null", "/dev/nonexistent"})

	out := buf.String()
	require.Contains(t, out, "Found 2 serial port(s)")
	require.Contains(t, out, "/dev/null")
	require.True(t, strings.Contains(out, "Error:"), "unreadable ports are reported inline")
}

func TestPrintPortInfo(t *testing.T) {
	var buf bytes.Buffer
	printPortInfo(&buf, &updi.PortInfo{
		Name:         "ttyUSB0",
		Path:         "/dev/ttyUSB0",
		Description:  "USB Serial Port",
		VendorID:     "0403",
		ProductID:    "6015",
		SerialNumber: "DN05ABCD",
	})

	out := buf.String()
	require.Contains(t, out, "/dev/ttyUSB0")
	require.Contains(t, out, "0403")
	require.Contains(t, out, "DN05ABCD")
	require.NotContains(t, out, "Manufacturer", "empty fields are omitted")
}
