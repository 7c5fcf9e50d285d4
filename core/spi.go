// SPI (Serial Peripheral Interface) support
// Implements Klipper's SPI commands on top of the accelerometer's bus
package core

import (
	"errors"

	"rampon/protocol"

	"tinygo.org/x/drivers"
)

// SPI device flags
const (
	SF_HARDWARE       = 0x00 // Hardware SPI
	SF_CS_ACTIVE_HIGH = 0x02 // Chip select active high (default is active low)
	SF_HAVE_PIN       = 0x04 // Has chip select pin
)

// spiTransferMax bounds spi_transfer payloads.
const spiTransferMax = 32

// ErrNoSPIBus is returned when a transfer is attempted without a bus.
var ErrNoSPIBus = errors.New("spi: no bus configured")

// SPIDevice is a bus handle plus its chip select line. It performs one
// synchronous transaction at a time with CS asserted around it.
type SPIDevice struct {
	OID   uint8 // Object ID assigned by config_spi
	Flags uint8 // Device flags (CS polarity, CS present)

	bus drivers.SPI
	cs  OutputPin

	// Bus configuration (set by spi_set_bus)
	BusID SPIBusID
	Mode  SPIMode
	Rate  uint32

	// Shutdown safety
	ShutdownMsg []byte
}

// NewSPIDevice binds a bus and chip select. cs may be nil for devices
// without a chip select line.
func NewSPIDevice(bus drivers.SPI, cs OutputPin, csActiveHigh bool) *SPIDevice {
	dev := &SPIDevice{bus: bus, cs: cs}
	if cs != nil {
		dev.Flags |= SF_HAVE_PIN
	}
	if csActiveHigh {
		dev.Flags |= SF_CS_ACTIVE_HIGH
	}
	dev.releaseCS()
	return dev
}

// SetBus swaps the underlying bus, e.g. after spi_set_bus.
func (d *SPIDevice) SetBus(bus drivers.SPI) { d.bus = bus }

// SetCSActiveHigh changes the chip select polarity and parks the line.
func (d *SPIDevice) SetCSActiveHigh(activeHigh bool) {
	if activeHigh {
		d.Flags |= SF_CS_ACTIVE_HIGH
	} else {
		d.Flags &^= SF_CS_ACTIVE_HIGH
	}
	d.releaseCS()
}

func (d *SPIDevice) assertCS() {
	if d.cs == nil {
		return
	}
	if d.Flags&SF_CS_ACTIVE_HIGH != 0 {
		d.cs.High()
	} else {
		d.cs.Low()
	}
}

func (d *SPIDevice) releaseCS() {
	if d.cs == nil {
		return
	}
	if d.Flags&SF_CS_ACTIVE_HIGH != 0 {
		d.cs.Low()
	} else {
		d.cs.High()
	}
}

// Transfer clocks out tx while reading len(tx) bytes into rx.
func (d *SPIDevice) Transfer(tx, rx []byte) error {
	if d.bus == nil {
		return ErrNoSPIBus
	}
	d.assertCS()
	err := d.bus.Tx(tx, rx)
	d.releaseCS()
	return err
}

// Send clocks out tx and discards whatever comes back.
func (d *SPIDevice) Send(tx []byte) error {
	return d.Transfer(tx, nil)
}

// registerSPICommands declares the Klipper SPI commands. The firmware has a
// single SPI device wired to the accelerometer, so every oid addresses it.
func (f *Firmware) registerSPICommands() {
	f.registry.Register("config_spi", "oid=%c pin=%u cs_active_high=%c", f.handleConfigSPI)
	f.registry.Register("config_spi_without_cs", "oid=%c", f.handleConfigSPIWithoutCS)
	f.registry.Register("spi_set_bus", "oid=%c spi_bus=%u mode=%u rate=%u", f.handleSPISetBus)
	f.registry.Register("config_spi_shutdown", "oid=%c spi_oid=%c shutdown_msg=%*s", f.handleConfigSPIShutdown)
	f.registry.Register("spi_transfer", "oid=%c data=%*s", f.handleSPITransfer)
	f.registry.Register("spi_send", "oid=%c data=%*s", f.handleSPISend)
	f.registry.RegisterResponse("spi_transfer_response", "oid=%c response=%*s")
}

// handleConfigSPI binds the host's oid to the board's SPI device.
// The chip select pin is fixed by the board; the pin argument is ignored.
// Format: config_spi oid=%c pin=%u cs_active_high=%c
func (f *Firmware) handleConfigSPI(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if _, err := protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	csActiveHigh, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	f.spi.OID = uint8(oid)
	f.spi.SetCSActiveHigh(csActiveHigh != 0)
	return nil
}

// Format: config_spi_without_cs oid=%c
func (f *Firmware) handleConfigSPIWithoutCS(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	f.spi.OID = uint8(oid)
	return nil
}

// handleSPISetBus reconfigures the bus when the target provides an
// SPIDriver. Otherwise the parameters are recorded and the board setup stays.
// Format: spi_set_bus oid=%c spi_bus=%u mode=%u rate=%u
func (f *Firmware) handleSPISetBus(data *[]byte) error {
	var args [4]uint32
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		args[i] = v
	}

	cfg := SPIConfig{BusID: SPIBusID(args[1]), Mode: SPIMode(args[2]), Rate: args[3]}
	f.spi.BusID, f.spi.Mode, f.spi.Rate = cfg.BusID, cfg.Mode, cfg.Rate
	if f.spiDriver == nil {
		return nil
	}

	bus, err := f.spiDriver.ConfigureBus(cfg)
	if err != nil {
		return err
	}
	f.spi.SetBus(bus)
	return nil
}

// Format: config_spi_shutdown oid=%c spi_oid=%c shutdown_msg=%*s
func (f *Firmware) handleConfigSPIShutdown(data *[]byte) error {
	if _, err := protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	if _, err := protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	msg, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	f.spi.ShutdownMsg = append(f.spi.ShutdownMsg[:0], msg...)
	return nil
}

// handleSPITransfer forwards at most 32 bytes to the accelerometer bus and
// echoes what was clocked back.
// Format: spi_transfer oid=%c data=%*s
// Response: spi_transfer_response oid=%c response=%*s
func (f *Firmware) handleSPITransfer(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	var tx, rx [spiTransferMax]byte
	n := copy(tx[:], payload)
	if err := f.accel.Transfer(tx[:n], rx[:n]); err != nil {
		return err
	}

	f.SendResponse("spi_transfer_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQBytes(output, rx[:n])
	})
	return nil
}

// Format: spi_send oid=%c data=%*s
func (f *Firmware) handleSPISend(data *[]byte) error {
	if _, err := protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	return f.accel.Send(payload)
}

// shutdownSPI sends the configured shutdown message, if any.
func (f *Firmware) shutdownSPI() {
	if len(f.spi.ShutdownMsg) > 0 {
		_ = f.spi.Send(f.spi.ShutdownMsg)
	}
}
