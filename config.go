package updi

import (
	"io"
	"log/slog"
	"time"
)

// ReadTimeout bounds every blocking read on the link. It is fixed: every
// higher-level latency bound (lock hold time, pump latency) is derived from it.
const ReadTimeout = time.Second

// DefaultBaudRate is the operating rate requested when none is given. Rates
// above MaxInitialBaudRate need the target's 16 MHz UPDI clock, which is
// switched on during Connect.
const (
	DefaultBaudRate    = 921600
	MaxInitialBaudRate = 115200
)

// Config holds the configuration for a UPDI link
type Config struct {
	BaudRate   int
	Parity     Parity
	StopBits   int
	HalfDuplex bool         // Read back and verify every byte sent
	Trace      bool         // Hex-dump all link traffic at debug level
	Logger     *slog.Logger // Destination for trace and teardown diagnostics
}

// Option is a functional option for configuring a UPDI link
type Option func(*Config) error

// DefaultConfig returns the UPDI line settings: 8 data bits, even parity,
// two stop bits, half duplex.
func DefaultConfig() Config {
	return Config{
		BaudRate:   MaxInitialBaudRate,
		Parity:     ParityEven,
		StopBits:   2,
		HalfDuplex: true,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithBaudRate sets the baud rate
func WithBaudRate(rate int) Option {
	return func(c *Config) error {
		if _, err := getBaudRate(rate); err != nil {
			return err
		}
		c.BaudRate = rate
		return nil
	}
}

// WithParity sets the parity mode
func WithParity(parity Parity) Option {
	return func(c *Config) error {
		if parity != ParityNone && parity != ParityEven && parity != ParityOdd {
			return ErrInvalidConfig
		}
		c.Parity = parity
		return nil
	}
}

// WithStopBits sets the number of stop bits (1 or 2)
func WithStopBits(bits int) Option {
	return func(c *Config) error {
		if bits != 1 && bits != 2 {
			return ErrInvalidConfig
		}
		c.StopBits = bits
		return nil
	}
}

// WithHalfDuplex controls the echo check. A UPDI adapter ties TX and RX
// together, so every byte sent is also received.
func WithHalfDuplex(enabled bool) Option {
	return func(c *Config) error {
		c.HalfDuplex = enabled
		return nil
	}
}

// WithTrace enables a hex dump of every byte sent and received
func WithTrace(enabled bool) Option {
	return func(c *Config) error {
		c.Trace = enabled
		return nil
	}
}

// WithLogger sets the logger used for trace output and diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.Logger = logger
		return nil
	}
}

func applyOptions(opts []Option) (Config, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return Config{}, err
		}
	}
	return config, nil
}
