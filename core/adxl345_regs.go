package core

// Register is an ADXL345 register address. Using a distinct type keeps raw
// integers from being passed where an address is expected.
type Register uint8

// ADXL345 register map (datasheet Rev. G, table 19)
const (
	RegDevID       Register = 0x00
	RegThreshTap   Register = 0x1D
	RegOfsX        Register = 0x1E
	RegOfsY        Register = 0x1F
	RegOfsZ        Register = 0x20
	RegDur         Register = 0x21
	RegLatent      Register = 0x22
	RegWindow      Register = 0x23
	RegThreshAct   Register = 0x24
	RegThreshInact Register = 0x25
	RegTimeInact   Register = 0x26
	RegActInactCtl Register = 0x27
	RegThreshFF    Register = 0x28
	RegTimeFF      Register = 0x29
	RegTapAxes     Register = 0x2A
	RegActTapStat  Register = 0x2B
	RegBWRate      Register = 0x2C
	RegPowerCtl    Register = 0x2D
	RegIntEnable   Register = 0x2E
	RegIntMap      Register = 0x2F
	RegIntSource   Register = 0x30
	RegDataFormat  Register = 0x31
	RegDataX0      Register = 0x32
	RegDataX1      Register = 0x33
	RegDataY0      Register = 0x34
	RegDataY1      Register = 0x35
	RegDataZ0      Register = 0x36
	RegDataZ1      Register = 0x37
	RegFIFOCtl     Register = 0x38
	RegFIFOStatus  Register = 0x39
)

// SPI address byte flags
const (
	addrMultiByte = 0x40
	addrRead      = 0x80
)

// Register values and limits used by the sampling logic
const (
	powerCtlStandby = 0x00
	powerCtlMeasure = 0x08

	// fifoCtlStream is FIFO_CTL as configured by the host: stream mode,
	// watermark 16. Every burst read echoes it, so a mismatch flags a
	// corrupted transfer.
	fifoCtlStream = 0x90

	// fifoEntriesMax is the depth of the on-chip FIFO.
	fifoEntriesMax = 32
	// fifoNearFull is the depth at which samples may have been lost.
	fifoNearFull = 31
	// drainLimit bounds the FIFO reads done while stopping.
	drainLimit = fifoEntriesMax + 1

	// DevIDValue is the fixed content of RegDevID.
	DevIDValue = 0xE5
)

// Read returns the address byte for a single-register read.
func (r Register) Read() byte {
	return byte(r) | addrRead
}

// ReadMulti returns the address byte for an auto-incrementing burst read.
func (r Register) ReadMulti() byte {
	return byte(r) | addrRead | addrMultiByte
}

// Write returns the address byte for a single-register write.
func (r Register) Write() byte {
	return byte(r)
}

func (r Register) String() string {
	switch r {
	case RegDevID:
		return "DEVID"
	case RegBWRate:
		return "BW_RATE"
	case RegPowerCtl:
		return "POWER_CTL"
	case RegDataFormat:
		return "DATA_FORMAT"
	case RegDataX0:
		return "DATAX0"
	case RegFIFOCtl:
		return "FIFO_CTL"
	case RegFIFOStatus:
		return "FIFO_STATUS"
	}
	return "REG_0x" + hex8(uint8(r))
}
