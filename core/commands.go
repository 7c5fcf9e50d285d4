package core

import "rampon/protocol"

// moveCount is reported in config; the firmware has no move queue but
// Klipper requires a nonzero value.
const moveCount = 16

// registerCoreCommands registers the core protocol commands.
// IMPORTANT: Command registration order matters!
// Klipper has a hardcoded bootstrap dictionary:
//
//	identify_response = ID 0
//	identify = ID 1
func (f *Firmware) registerCoreCommands() {
	f.registry.RegisterResponse("identify_response", "offset=%u data=%*s")  // ID 0
	f.registry.Register("identify", "offset=%u count=%c", f.handleIdentify) // ID 1

	f.registry.Register("get_uptime", "", f.handleGetUptime)
	f.registry.Register("get_clock", "", f.handleGetClock)
	f.registry.Register("get_config", "", f.handleGetConfig)
	f.registry.Register("config_reset", "", f.handleConfigReset)
	f.registry.Register("finalize_config", "crc=%u", f.handleFinalizeConfig)
	f.registry.Register("allocate_oids", "count=%c", f.handleAllocateOids)
	f.registry.Register("emergency_stop", "", f.handleEmergencyStop)
	f.registry.Register("reset", "", f.handleReset)

	// Response messages (MCU → Host)
	f.registry.RegisterResponse("clock", "clock=%u")
	f.registry.RegisterResponse("uptime", "high=%u clock=%u")
	f.registry.RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")
}

// handleIdentify returns chunks of the data dictionary
// Format: identify offset=%u count=%c
func (f *Firmware) handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := f.dict.GetChunk(offset, uint8(count))
	f.SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

// handleGetUptime returns the 64-bit uptime split in two words
func (f *Firmware) handleGetUptime(data *[]byte) error {
	var uptime uint64
	if u, ok := f.clock.(interface{ Uptime() uint64 }); ok {
		uptime = u.Uptime()
	} else {
		uptime = uint64(f.clock.Now().Ticks())
	}

	f.SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})
	return nil
}

// handleGetClock returns the current clock value
func (f *Firmware) handleGetClock(data *[]byte) error {
	now := f.clock.Now()
	f.SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, now.Ticks())
	})
	return nil
}

// handleGetConfig returns the configuration state
func (f *Firmware) handleGetConfig(data *[]byte) error {
	f.SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolArg(f.configCRC != 0))
		protocol.EncodeVLQUint(output, f.configCRC)
		protocol.EncodeVLQUint(output, boolArg(f.isShutdown))
		protocol.EncodeVLQUint(output, moveCount)
	})
	return nil
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (f *Firmware) handleConfigReset(data *[]byte) error {
	f.configCRC = 0
	f.isShutdown = false
	return nil
}

// handleFinalizeConfig records the host's config CRC
// Format: finalize_config crc=%u
func (f *Firmware) handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	f.configCRC = crc
	return nil
}

// handleAllocateOids is accepted for compatibility; objects are static.
func (f *Firmware) handleAllocateOids(data *[]byte) error {
	_, err := protocol.DecodeVLQUint(data)
	return err
}

// handleEmergencyStop stops sampling and sends the SPI shutdown message
func (f *Firmware) handleEmergencyStop(data *[]byte) error {
	f.isShutdown = true
	f.accel.Shutdown()
	f.shutdownSPI()
	DumpTimingRing()
	return nil
}

// handleReset triggers a hardware reset of the MCU
// NOTE: The actual reset is deferred until after the ACK is sent to the host
func (f *Firmware) handleReset(_ *[]byte) error {
	f.resetPending = true
	return nil
}
