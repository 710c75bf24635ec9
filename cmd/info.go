/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/allbin/go-updi"
	"github.com/allbin/go-updi/internal/tui/styles"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info [port]",
	Short: "Display the adapter and the target behind it",
	Long: `Display information about a UPDI adapter including USB metadata and,
unless --port-only is given, the System Information Block of the target
connected to it.

Examples:
  upditerm info /dev/ttyUSB0
  upditerm info --port-only /dev/ttyACM0`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		portPath := viper.GetString("port")
		if len(args) == 1 {
			portPath = args[0]
		}
		if portPath == "" {
			var err error
			if portPath, err = updi.DefaultPort(); err != nil {
				return err
			}
		}

		info, err := updi.GetPortInfo(portPath)
		if err != nil {
			return fmt.Errorf("getting port info: %w", err)
		}
		printPortInfo(os.Stdout, info)

		portOnly, _ := cmd.Flags().GetBool("port-only")
		if portOnly {
			return nil
		}

		trace := viper.GetBool("trace")
		engine, err := updi.Dial(portPath, viper.GetInt("baud"),
			updi.WithTrace(trace), updi.WithLogger(newLogger(trace)))
		if err != nil {
			return err
		}
		defer engine.Close()

		sib, err := engine.Identify()
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(styles.TitleStyle.Render("Target"))
		field(os.Stdout, "SIB", sib)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().Bool("port-only", false, "Do not connect to the target")
}

func field(w io.Writer, label, value string) {
	if value != "" {
		fmt.Fprintln(w, styles.LabelStyle.Render(label)+styles.ValueStyle.Render(value))
	}
}

func printPortInfo(w io.Writer, info *updi.PortInfo) {
	fmt.Fprintln(w, styles.TitleStyle.Render("Port "+info.Path))
	field(w, "Name", info.Name)
	field(w, "Description", info.Description)

	if info.IsUSB() {
		field(w, "Vendor ID", info.VendorID)
		field(w, "Product ID", info.ProductID)
		field(w, "Serial", info.SerialNumber)
		field(w, "Interface", info.InterfaceNumber)
		field(w, "Bus", info.BusNumber)
		field(w, "Device", info.DeviceNumber)
		field(w, "Manufacturer", info.Manufacturer)
		field(w, "Product", info.Product)
	}
}
