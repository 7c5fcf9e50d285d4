//go:build rp2040

package main

import (
	"errors"
	"machine"

	"rampon/core"

	"tinygo.org/x/drivers"
)

// Accelerometer bus settings shared by every board variant
const (
	accelSPIRate = 8000000
	accelSPIMode = 3
)

// spiBusConfig is one hardware SPI controller with the pins a board routes
// to it.
type spiBusConfig struct {
	id   core.SPIBusID
	spi  *machine.SPI // SPI controller (SPI0 or SPI1)
	sck  machine.Pin  // Clock pin
	mosi machine.Pin  // Master Out Slave In
	miso machine.Pin  // Master In Slave Out
}

// boardConfig is the accelerometer wiring of one board variant.
type boardConfig struct {
	name string
	bus  spiBusConfig
	cs   machine.Pin
}

var (
	errInvalidBus  = errors.New("spi bus not routed on this board")
	errInvalidMode = errors.New("invalid SPI mode")
)

// RP2040SPIDriver implements core.SPIDriver for the board's bus.
type RP2040SPIDriver struct {
	configured bool
	mode       core.SPIMode
	rate       uint32
}

// NewRP2040SPIDriver creates a new RP2040 SPI driver
func NewRP2040SPIDriver() *RP2040SPIDriver {
	return &RP2040SPIDriver{}
}

// ConfigureBus sets up the board's SPI controller. Only the bus routed to
// the accelerometer can be configured.
func (d *RP2040SPIDriver) ConfigureBus(config core.SPIConfig) (drivers.SPI, error) {
	if config.BusID != board.bus.id {
		return nil, errInvalidBus
	}
	if config.Mode > 3 {
		return nil, errInvalidMode
	}

	spi := board.bus.spi
	if d.configured && d.mode == config.Mode && d.rate == config.Rate {
		return spi, nil
	}

	err := spi.Configure(machine.SPIConfig{
		Frequency: config.Rate,
		SCK:       board.bus.sck,
		SDO:       board.bus.mosi, // SDO = Serial Data Out (MOSI)
		SDI:       board.bus.miso, // SDI = Serial Data In (MISO)
		Mode:      uint8(config.Mode),
	})
	if err != nil {
		return nil, err
	}

	d.configured, d.mode, d.rate = true, config.Mode, config.Rate
	return spi, nil
}

// GetBusInfo returns the spi_bus enumeration. Both controllers are listed
// so bus IDs match the host configuration of every board.
func (d *RP2040SPIDriver) GetBusInfo() map[core.SPIBusID]string {
	return map[core.SPIBusID]string{
		0: "spi0",
		1: "spi1",
	}
}
