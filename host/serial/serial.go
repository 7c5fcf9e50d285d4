package serial

import (
	"io"
	"time"
)

// Port is the byte stream to the accelerometer MCU. The native
// implementation wraps github.com/tarm/serial; tests substitute pipes.
type Port interface {
	io.ReadWriteCloser

	// Flush discards anything still queued in the driver.
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate. USB CDC ignores it but tarm/serial requires one.
	Baud int

	// ReadTimeout bounds each Read. Zero blocks.
	ReadTimeout time.Duration
}

// DefaultBaud is the usual Klipper link speed.
const DefaultBaud = 250000

// DefaultReadTimeout keeps the reader goroutine responsive to Close.
const DefaultReadTimeout = 100 * time.Millisecond

// DefaultConfig returns the configuration used when only a device is known.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: DefaultReadTimeout,
	}
}
