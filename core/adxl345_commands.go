package core

import "rampon/protocol"

// registerAccelCommands declares the accelerometer commands and the replies
// of enc.
func (f *Firmware) registerAccelCommands(enc ReplyEncoding) {
	f.registry.Register("config_adxl345", "oid=%c spi_oid=%c", f.handleConfigADXL345)
	f.registry.Register("query_adxl345", "oid=%c clock=%u rest_ticks=%u", f.handleQueryADXL345)
	f.registry.Register("query_adxl345_status", "oid=%c", f.handleQueryADXL345Status)
	enc.Register(f.registry)
}

// Format: config_adxl345 oid=%c spi_oid=%c
func (f *Firmware) handleConfigADXL345(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if _, err := protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	f.accel.Configure(uint8(oid))
	return nil
}

// handleQueryADXL345 starts sampling at clock, or stops when rest_ticks is 0.
// Format: query_adxl345 oid=%c clock=%u rest_ticks=%u
func (f *Firmware) handleQueryADXL345(data *[]byte) error {
	if _, err := protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	clock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	restTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	if restTicks == 0 {
		return f.accel.Stop()
	}
	return f.accel.ScheduleStart(NewInstant(clock), Duration(restTicks))
}

// Format: query_adxl345_status oid=%c
func (f *Firmware) handleQueryADXL345Status(data *[]byte) error {
	if _, err := protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	return f.accel.StatusQuery()
}
