/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/allbin/go-updi"
	"github.com/allbin/go-updi/internal/tui/models"
	"github.com/allbin/go-updi/internal/tui/styles"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// portsCmd represents the ports command
var portsCmd = &cobra.Command{
	Use:     "ports",
	Aliases: []string{"list"},
	Short:   "List serial ports a UPDI adapter could be attached to",
	Long: `List the serial ports on the system. The first one listed is used when
upditerm is started without a port.

With --table, USB vendor/product IDs and serial numbers are shown, which
helps tell several adapters apart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := updi.ListPorts()
		if err != nil {
			return fmt.Errorf("listing ports: %w", err)
		}

		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}

		tableFormat, _ := cmd.Flags().GetBool("table")
		if tableFormat {
			renderTable(os.Stdout, ports)
		} else {
			renderSimple(os.Stdout, ports)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)

	portsCmd.Flags().Bool("table", false, "Display output in a styled table format")
}

// renderTable renders the port list in a styled static table format
func renderTable(w io.Writer, ports []string) {
	fmt.Fprintf(w, "Found %d serial port(s):\n\n", len(ports))

	const (
		portWidth   = 16
		usbWidth    = 10
		serialWidth = 14
		descWidth   = 30
	)

	header := fmt.Sprintf("%-*s %-*s %-*s %-*s",
		portWidth, "Port",
		usbWidth, "VID:PID",
		serialWidth, "Serial",
		descWidth, "Description")
	fmt.Fprintln(w, styles.HeaderStyle.Render(header))

	for _, port := range ports {
		info, err := updi.GetPortInfo(port)
		if err != nil {
			row := fmt.Sprintf("%-*s %s", portWidth, port, fmt.Sprintf("Error: %v", err))
			fmt.Fprintln(w, styles.DimStyle.Render(row))
			continue
		}

		usb := "-"
		if info.IsUSB() {
			usb = info.VendorID + ":" + info.ProductID
		}
		serialNumber := info.SerialNumber
		if serialNumber == "" {
			serialNumber = "-"
		}
		desc := info.Description
		if info.Product != "" {
			desc = strings.TrimSpace(info.Manufacturer + " " + info.Product)
		}

		row := fmt.Sprintf("%-*s %-*s %-*s %-*s",
			portWidth, info.Path,
			usbWidth, usb,
			serialWidth, serialNumber,
			descWidth, desc)
		fmt.Fprintln(w, styles.CellStyle.Render(row))
	}
}

// renderSimple renders the port list in simple text format
func renderSimple(w io.Writer, ports []string) {
	for _, port := range ports {
		fmt.Fprintln(w, port)
	}
}

// choosePort picks the port to use when none was given: the first one
// found, or the user's choice from an interactive picker
func choosePort(interactive bool) (string, error) {
	if !interactive {
		return updi.DefaultPort()
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("--select needs a terminal")
	}

	paths, err := updi.ListPorts()
	if err != nil {
		return "", fmt.Errorf("listing ports: %w", err)
	}
	if len(paths) == 0 {
		return "", updi.ErrNoPorts
	}

	ports := make([]*updi.PortInfo, 0, len(paths))
	for _, path := range paths {
		if info, err := updi.GetPortInfo(path); err == nil {
			ports = append(ports, info)
		}
	}

	m := models.NewPickerModel(ports)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		return "", fmt.Errorf("port picker: %w", err)
	}
	if m.Selected() == "" {
		return "", fmt.Errorf("no port selected")
	}
	return m.Selected(), nil
}
