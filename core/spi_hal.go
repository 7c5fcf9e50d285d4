package core

import "tinygo.org/x/drivers"

// SPIBusID identifies a hardware SPI bus configuration
type SPIBusID uint8

// SPIMode represents SPI clock polarity and phase (0-3)
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIMode uint8

// SPIConfig holds the configuration for an SPI bus
type SPIConfig struct {
	BusID SPIBusID // Hardware bus identifier
	Mode  SPIMode  // SPI mode (0-3)
	Rate  uint32   // Clock rate in Hz
}

// SPIDriver is the platform hook used by spi_set_bus to reconfigure a bus.
// Targets register one with FirmwareConfig; without it the board's
// compile-time bus setup is kept.
type SPIDriver interface {
	// ConfigureBus sets up a hardware SPI bus with the given parameters and
	// returns it ready for transfers.
	ConfigureBus(config SPIConfig) (drivers.SPI, error)

	// GetBusInfo returns the available buses keyed by ID, with the names
	// used in the spi_bus dictionary enumeration.
	GetBusInfo() map[SPIBusID]string
}

// OutputPin is a push-pull GPIO output used as chip select.
// machine.Pin satisfies it on TinyGo targets.
type OutputPin interface {
	High()
	Low()
}
