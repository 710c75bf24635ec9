/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/allbin/go-updi"
	"github.com/allbin/go-updi/internal/tui/styles"
	"github.com/spf13/cobra"
)

// resetAdapterCmd represents the reset-adapter command
var resetAdapterCmd = &cobra.Command{
	Use:   "reset-adapter <port>",
	Short: "USB-reset a hung UPDI adapter",
	Long: `Perform a USB-level reset on the adapter. This recovers USB-serial
bridges that stop answering after a target is unplugged mid-session,
without physically replugging them. To reset the target instead, use
upditerm --reset or the escape command during a session.

The adapter re-enumerates after the reset and may come back under a
different port path; use --serial to name it by USB serial number.

Requirements:
- usbreset utility must be installed (from usbutils package)
- Root/sudo permissions required for USB operations

Examples:
  sudo upditerm reset-adapter /dev/ttyUSB0
  sudo upditerm reset-adapter --serial DN05ABCD`,
	Args: func(cmd *cobra.Command, args []string) error {
		serialFlag, _ := cmd.Flags().GetString("serial")
		if serialFlag == "" && len(args) != 1 {
			return errors.New("requires either a port path argument or --serial flag")
		}
		if serialFlag != "" && len(args) > 0 {
			return errors.New("cannot specify both port path and --serial flag")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !updi.IsUSBResetAvailable() {
			return fmt.Errorf("%w (install with: sudo apt-get install usbutils)", updi.ErrUSBResetNotAvailable)
		}

		serialFlag, _ := cmd.Flags().GetString("serial")

		var err error
		if serialFlag != "" {
			fmt.Printf("Resetting adapter with serial: %s\n", serialFlag)
			err = updi.ResetAdapterBySerial(cmd.Context(), serialFlag)
		} else {
			fmt.Printf("Resetting adapter: %s\n", args[0])
			err = updi.ResetAdapter(cmd.Context(), args[0])
		}

		if errors.Is(err, updi.ErrUSBInfoNotAvailable) {
			return fmt.Errorf("%w: this port does not appear to be a USB device", err)
		}
		if err != nil {
			return err
		}

		fmt.Println(styles.SuccessStyle.Render("Adapter reset successfully"))
		fmt.Println("Use 'upditerm ports --table' to see the updated port list")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetAdapterCmd)

	resetAdapterCmd.Flags().StringP("serial", "s", "", "Reset adapter by USB serial number")
}
