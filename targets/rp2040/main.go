//go:build rp2040

package main

import (
	"machine"
	"time"

	"rampon/core"
	"rampon/protocol"
)

// accelEncoding selects the reply names. Override at link time with
// -ldflags "-X main.accelEncoding=bulk".
var accelEncoding = core.EncodingADXL345

var (
	// Buffers for communication
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	fw           *core.Firmware

	// Debug counters
	msgerrors uint32

	// USB connection state tracking
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Disable a watchdog left running by a previous reset
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()
	InitClock()

	spiDriver := NewRP2040SPIDriver()
	bus, err := spiDriver.ConfigureBus(core.SPIConfig{
		BusID: board.bus.id,
		Mode:  accelSPIMode,
		Rate:  accelSPIRate,
	})
	if err != nil {
		halt()
	}
	board.cs.Configure(machine.PinConfig{Mode: machine.PinOutput})

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	fw, err = core.NewFirmware(core.FirmwareConfig{
		MCU:          "rampon",
		ClockFreq:    core.GetTimerFreq(),
		Clock:        hardwareClock{},
		Bus:          bus,
		BusID:        board.bus.id,
		CS:           board.cs,
		SPIDriver:    spiDriver,
		Encoding:     accelEncoding,
		ResetHandler: watchdogReset,
	}, outputBuffer)
	if err != nil {
		halt()
	}
	core.DebugPrintln("[MAIN] rampon " + board.name + " ready")

	transport := fw.Transport()
	transport.SetResetCallback(fw.ResetState)
	// Handler responses are encoded ahead of the ACK, as Klipper dispatches
	// before acknowledging. Flush writes both out together.
	transport.SetFlushCallback(writeUSB)

	for {
		UpdateSystemTime()
		readUSB()
		step()
		writeUSB()

		// Reset only after the ACK went out
		fw.CheckPendingReset()
	}
}

// step runs one control-loop iteration: received commands first, then the
// accelerometer task.
func step() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			inputBuffer.Reset()
			outputBuffer.Reset()
		}
	}()

	data := inputBuffer.Data()
	in := protocol.NewSliceInputBuffer(data)
	fw.Step(in)
	if consumed := len(data) - in.Available(); consumed > 0 {
		inputBuffer.Pop(consumed)
	}
}

// readUSB moves pending USB bytes into the input FIFO without blocking.
func readUSB() {
	for USBAvailable() > 0 && inputBuffer.Free() > 0 {
		b, err := USBRead()
		if err != nil {
			msgerrors++
			return
		}

		if usbWasDisconnected {
			// Fresh connection: drop stale state
			usbWasDisconnected = false
			consecutiveWriteFailures = 0
			inputBuffer.Reset()
			outputBuffer.Reset()
			fw.Transport().Reset()
		}

		inputBuffer.Write([]byte{b})
	}
}

// writeUSB writes available data from output buffer to USB
func writeUSB() {
	result := outputBuffer.Result()
	if len(result) == 0 {
		return
	}

	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			// Likely disconnected; give up on stale data after a few tries
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}

// watchdogReset reboots through the watchdog, which also re-enumerates USB.
func watchdogReset() {
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}); err != nil {
		return
	}
	if err := machine.Watchdog.Start(); err != nil {
		return
	}
	for {
		time.Sleep(1 * time.Millisecond)
	}
}

// halt parks the firmware after a fatal setup error.
func halt() {
	for {
		time.Sleep(time.Second)
	}
}
