/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/allbin/go-updi"
	"github.com/allbin/go-updi/internal/console"
	"github.com/allbin/go-updi/internal/mux"
	"github.com/allbin/go-updi/internal/tui/styles"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X github.com/allbin/go-updi/cmd.Version=..."
var Version = "1.0"

var cfgFile string

// rootCmd opens a terminal session on a target's virtual UART
var rootCmd = &cobra.Command{
	Use:   "upditerm [port] [baud]",
	Short: "Serial terminal over an AVR's UPDI pin",
	Long: `upditerm connects the console to a virtual UART running over UPDI, the
single-wire debug interface of tinyAVR, megaAVR 0-series and AVR-Dx parts.
Only a USB-serial adapter with TX and RX joined through a resistor is
needed; the target needs no UART pins.

Without a port, the first serial port found is used. A lone numeric
argument is taken as the baud rate.

While a session runs, the escape character (Ctrl-E by default) followed by
  e   exits
  r   resets the target
  ^E  sends the escape character itself

Examples:
  upditerm
  upditerm 230400
  upditerm /dev/ttyUSB0 921600 --reset --log session.log
  make flash && upditerm -r < test-input.txt`,
	Args:          cobra.MaximumNArgs(2),
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runTerminal,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.ErrorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/upditerm/upditerm.yaml)")
	rootCmd.PersistentFlags().BoolP("trace", "t", false, "Log UPDI traffic as hex dumps")

	flags := rootCmd.Flags()
	flags.SetNormalizeFunc(dashedFlagNames)
	flags.IntP("escape", "e", mux.DefaultEscape, "Escape character as a control code, 0-31 (5 is Ctrl-E)")
	flags.StringP("log", "l", "", "Append everything received to this file")
	flags.BoolP("no-keymap", "k", false, "Send Enter and Backspace unchanged (default maps CR to LF and DEL to BS)")
	flags.BoolP("quiet", "q", false, "Do not print the escape key help")
	flags.BoolP("reset", "r", false, "Reset the target before starting")
	flags.BoolP("info", "i", false, "Print the target's System Information Block and exit")
	flags.Bool("select", false, "Choose the port interactively")

	for _, name := range []string{"escape", "log", "no-keymap", "quiet", "reset", "info", "select"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
	viper.BindPFlag("trace", rootCmd.PersistentFlags().Lookup("trace"))
}

// dashedFlagNames accepts --no_keymap for --no-keymap, matching the
// spelling of config file keys
func dashedFlagNames(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// initConfig layers upditerm.yaml and UPDITERM_* variables under the flags
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("upditerm")
		viper.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(dir, "upditerm"))
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("UPDITERM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("port", "")
	viper.SetDefault("baud", updi.DefaultBaudRate)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			fmt.Fprintln(os.Stderr, styles.ErrorStyle.Render("Error reading config: "+err.Error()))
		}
	}
}

// parseTarget interprets the positional arguments: [port] [baud], where a
// single numeric argument is a baud rate
func parseTarget(args []string, defaultPort string, defaultBaud int) (string, int, error) {
	port, baud := defaultPort, defaultBaud

	switch len(args) {
	case 1:
		if n, err := strconv.Atoi(args[0]); err == nil {
			baud = n
		} else {
			port = args[0]
		}
	case 2:
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 0, fmt.Errorf("%w: %q", updi.ErrInvalidBaudRate, args[1])
		}
		port, baud = args[0], n
	}
	return port, baud, nil
}

// escapeByte validates the configured escape character
func escapeByte(code int) (byte, error) {
	if code < 0 || code > 31 {
		return 0, fmt.Errorf("escape character must be a control code 0-31, got %d", code)
	}
	return byte(code), nil
}

func runTerminal(cmd *cobra.Command, args []string) error {
	trace := viper.GetBool("trace")
	logger := newLogger(trace)

	escape, err := escapeByte(viper.GetInt("escape"))
	if err != nil {
		return err
	}

	port, baud, err := parseTarget(args, viper.GetString("port"), viper.GetInt("baud"))
	if err != nil {
		return err
	}
	if port == "" {
		if port, err = choosePort(viper.GetBool("select")); err != nil {
			return err
		}
	}
	logger = logger.With("port", port)

	engine, err := updi.Dial(port, baud, updi.WithTrace(trace), updi.WithLogger(logger))
	if err != nil {
		return err
	}
	defer engine.Close()

	if viper.GetBool("info") {
		sib, err := engine.Identify()
		if err != nil {
			return err
		}
		fmt.Println(sib)
		return nil
	}

	uart, err := updi.NewVirtualUART(engine, viper.GetBool("reset"))
	if err != nil {
		return err
	}
	defer uart.Close()

	opts := []mux.Option{mux.WithEscape(escape), mux.WithLogger(logger)}
	if path := viper.GetString("log"); path != "" {
		logFile, err := mux.OpenLog(path)
		if err != nil {
			return err
		}
		defer logFile.Close()
		opts = append(opts, mux.WithLog(logFile))
	}

	con, err := console.Open(os.Stdin, !viper.GetBool("no-keymap"))
	if err != nil {
		return fmt.Errorf("set terminal mode: %w", err)
	}
	defer con.Close()

	if con.Interactive() && !viper.GetBool("quiet") {
		fmt.Fprintln(os.Stderr, banner(escape))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	logger.Debug("terminal session started", "baud", baud, "interactive", con.Interactive())
	term := mux.New(uart, con, os.Stdout, opts...)
	err = term.Run(ctx)

	stats := term.Stats()
	logger.Debug("terminal session stats",
		"sent", stats.Sent,
		"received", stats.Received,
		"dropped", stats.Dropped,
		"resets", stats.Resets,
		"recoveries", uart.Recoveries(),
	)
	return err
}
