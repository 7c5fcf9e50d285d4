package core

import (
	"rampon/protocol"

	"tinygo.org/x/drivers"
)

// FirmwareConfig describes the board a Firmware runs on.
type FirmwareConfig struct {
	MCU       string // dictionary MCU constant
	ClockFreq uint32 // timer frequency reported as CLOCK_FREQ
	Clock     Clock  // defaults to SystemClock

	// Accelerometer bus and chip select
	Bus          drivers.SPI
	BusID        SPIBusID
	CS           OutputPin
	CSActiveHigh bool

	// SPIDriver lets spi_set_bus reconfigure the bus. Optional.
	SPIDriver SPIDriver

	// Encoding selects the accelerometer reply names: "adxl345" or "bulk".
	Encoding string

	// ResetHandler reboots the MCU. Optional.
	ResetHandler func()
}

// Firmware owns everything the control loop touches: command registry,
// dictionary, transport, SPI device and accelerometer driver.
type Firmware struct {
	registry  *CommandRegistry
	dict      *Dictionary
	transport *protocol.Transport
	clock     Clock
	clockFreq uint32

	spi       *SPIDevice
	spiDriver SPIDriver
	accel     *AccelDriver
	tasks     TaskList

	configCRC    uint32
	isShutdown   bool
	resetPending bool
	resetHandler func()
}

// NewFirmware wires the firmware for cfg. Responses are encoded into
// output.
func NewFirmware(cfg FirmwareConfig, output protocol.OutputBuffer) (*Firmware, error) {
	enc, err := EncodingByName(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	freq := cfg.ClockFreq
	if freq == 0 {
		freq = GetTimerFreq()
	}
	mcu := cfg.MCU
	if mcu == "" {
		mcu = "rampon"
	}

	f := &Firmware{
		registry:     NewCommandRegistry(),
		clock:        clock,
		clockFreq:    freq,
		spiDriver:    cfg.SPIDriver,
		resetHandler: cfg.ResetHandler,
	}
	f.dict = NewDictionary(f.registry)
	f.transport = protocol.NewTransport(output, f.HandleCommand)

	f.spi = NewSPIDevice(cfg.Bus, cfg.CS, cfg.CSActiveHigh)
	f.spi.BusID = cfg.BusID
	f.accel = NewAccelDriver(f.spi, clock, f, enc)

	// Bootstrap IDs must come first, see registerCoreCommands.
	f.registerCoreCommands()
	f.registerSPICommands()
	f.registerAccelCommands(enc)

	f.dict.AddConstant("MCU", mcu)
	f.dict.AddConstant("CLOCK_FREQ", freq)
	f.dict.AddConstant("STATS_SUMSQ_BASE", uint32(256))
	f.dict.AddConstant("ACCEL_ENCODING", enc.Name())
	f.dict.AddEnumeration("spi_bus", f.busNames())
	f.dict.AddEnumeration("pin", []string{"CS"})
	f.dict.BuildDictionary()

	f.tasks.Add(f.accelTask)
	return f, nil
}

// busNames lists spi_bus enumeration values indexed by bus ID.
func (f *Firmware) busNames() []string {
	if f.spiDriver == nil {
		return []string{"spi0", "spi1"}
	}
	info := f.spiDriver.GetBusInfo()
	var names []string
	for id, name := range info {
		for len(names) <= int(id) {
			names = append(names, "")
		}
		names[id] = name
	}
	return names
}

// Step processes received frames and then runs every task once.
func (f *Firmware) Step(input protocol.InputBuffer) {
	if input != nil && input.Available() > 0 {
		f.transport.Receive(input)
	}
	f.tasks.Run(f.clock.Now())
}

// HandleCommand dispatches one command; it is the transport's handler.
func (f *Firmware) HandleCommand(cmdID uint16, data *[]byte) error {
	return f.registry.Dispatch(cmdID, data)
}

// SendResponse encodes a registered response. Unknown names are a
// programming error.
func (f *Firmware) SendResponse(name string, args func(output protocol.OutputBuffer)) {
	cmd, ok := f.registry.GetCommandByName(name)
	if !ok {
		panic("response not registered: " + name)
	}
	f.transport.SendCommand(cmd.ID, args)
}

func (f *Firmware) accelTask(now Instant) {
	if err := f.accel.Tick(now); err != nil {
		DebugPrintln("[ADXL] tick: " + err.Error())
	}
}

// CheckPendingReset runs the reset handler once a reset command has been
// acknowledged. Call it after the output has been flushed.
func (f *Firmware) CheckPendingReset() {
	if f.resetPending && f.resetHandler != nil {
		f.resetHandler()
	}
}

// ResetState returns to the unconfigured state after a host reconnect.
func (f *Firmware) ResetState() {
	f.configCRC = 0
	f.isShutdown = false
}

func (f *Firmware) Transport() *protocol.Transport { return f.transport }
func (f *Firmware) Registry() *CommandRegistry     { return f.registry }
func (f *Firmware) Dictionary() *Dictionary        { return f.dict }
func (f *Firmware) Accel() *AccelDriver            { return f.accel }
func (f *Firmware) SPI() *SPIDevice                { return f.spi }
func (f *Firmware) Tasks() *TaskList               { return &f.tasks }
func (f *Firmware) IsShutdown() bool               { return f.isShutdown }
func (f *Firmware) ConfigCRC() uint32              { return f.configCRC }
