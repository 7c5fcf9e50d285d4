package serial

import (
	"errors"
	"fmt"

	"github.com/tarm/serial"
)

// ErrNoDevice is returned by Open when the configuration names no device.
var ErrNoDevice = errors.New("serial device not set")

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port *serial.Port
	cfg  Config
}

// Open opens a native serial port
func Open(cfg *Config) (Port, error) {
	if cfg == nil || cfg.Device == "" {
		return nil, ErrNoDevice
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = DefaultBaud
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}

	return &NativePort{port: port, cfg: *cfg}, nil
}

func (p *NativePort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *NativePort) Write(b []byte) (int, error) { return p.port.Write(b) }

// Close closes the serial port
func (p *NativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Flush drops unread input and unsent output.
func (p *NativePort) Flush() error {
	return p.port.Flush()
}

// Device returns the path the port was opened with.
func (p *NativePort) Device() string { return p.cfg.Device }
