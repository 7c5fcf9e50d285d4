package sim

import (
	"sync"

	"rampon/core"
)

// Register addresses the emulation cares about.
const (
	regDevID      = 0x00
	regBWRate     = 0x2C
	regPowerCtl   = 0x2D
	regDataX0     = 0x32
	regFIFOCtl    = 0x38
	regFIFOStatus = 0x39

	addrRead  = 0x80
	addrMulti = 0x40

	powerMeasure = 0x08
	fifoDepth    = 32
)

// SignalFunc returns the raw 13-bit reading for sample n.
type SignalFunc func(n uint32) (x, y, z int16)

// Resting is a chip lying flat: 1g on Z in full resolution mode.
func Resting(n uint32) (x, y, z int16) {
	return 0, 0, 256
}

// Chip emulates an ADXL345 on the SPI bus. Samples accumulate in its FIFO
// at the BW_RATE data rate while POWER_CTL selects measurement mode.
type Chip struct {
	mu        sync.Mutex
	clock     core.Clock
	clockFreq uint32
	signal    SignalFunc

	regs      [0x40]byte
	fifo      int
	last      core.Instant
	produced  uint32
	overflows uint32
}

// NewChip returns a powered down chip. clockFreq is the tick rate of clock.
func NewChip(clock core.Clock, clockFreq uint32, signal SignalFunc) *Chip {
	if signal == nil {
		signal = Resting
	}
	c := &Chip{clock: clock, clockFreq: clockFreq, signal: signal}
	c.regs[regDevID] = core.DevIDValue
	c.regs[regBWRate] = 0x0A
	return c
}

// Tx implements drivers.SPI.
func (c *Chip) Tx(w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accrue()
	addr := w[0]
	reg := int(addr & 0x3F)

	if addr&addrRead == 0 {
		for i, b := range w[1:] {
			c.write(reg+i, b)
			if addr&addrMulti == 0 {
				break
			}
		}
		return nil
	}

	if r == nil {
		return nil
	}
	if reg == regDataX0 && c.fifo > 0 {
		c.pop()
	}
	for i := 1; i < len(r); i++ {
		at := reg
		if addr&addrMulti != 0 {
			at = reg + i - 1
		}
		r[i] = c.read(at)
	}
	r[0] = 0
	return nil
}

// Transfer implements drivers.SPI.
func (c *Chip) Transfer(b byte) (byte, error) {
	return 0, nil
}

func (c *Chip) write(reg int, b byte) {
	if reg >= len(c.regs) {
		return
	}
	if reg == regPowerCtl && b&powerMeasure != 0 && c.regs[regPowerCtl]&powerMeasure == 0 {
		c.last = c.clock.Now()
	}
	c.regs[reg] = b
}

func (c *Chip) read(reg int) byte {
	switch {
	case reg >= len(c.regs):
		return 0
	case reg == regFIFOStatus:
		return byte(c.fifo)
	}
	return c.regs[reg]
}

// pop moves the oldest FIFO entry into the data registers.
func (c *Chip) pop() {
	x, y, z := c.signal(c.produced - uint32(c.fifo))
	putAxis(c.regs[regDataX0:], x)
	putAxis(c.regs[regDataX0+2:], y)
	putAxis(c.regs[regDataX0+4:], z)
	c.fifo--
}

func putAxis(b []byte, v int16) {
	b[0] = byte(v)
	b[1] = byte(uint16(v) >> 8)
}

// accrue adds the samples measured since the last bus access.
func (c *Chip) accrue() {
	if c.regs[regPowerCtl]&powerMeasure == 0 {
		return
	}
	period := core.Duration(c.clockFreq / c.rateHz())
	if period == 0 {
		period = 1
	}
	now := c.clock.Now()
	n := now.Sub(c.last) / period
	if n == 0 {
		return
	}
	c.last = c.last.Add(n * period)
	c.produced += uint32(n)
	c.fifo += int(n)
	if c.fifo > fifoDepth {
		c.overflows += uint32(c.fifo - fifoDepth)
		c.fifo = fifoDepth
	}
}

// rateHz decodes BW_RATE: 0x0F is 3200 Hz and each step down halves it.
func (c *Chip) rateHz() uint32 {
	code := c.regs[regBWRate] & 0x0F
	if code < 0x06 {
		code = 0x06
	}
	return 3200 >> (0x0F - code)
}

// Measuring reports whether POWER_CTL selects measurement mode.
func (c *Chip) Measuring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[regPowerCtl]&powerMeasure != 0
}

// Register returns the value last written to reg.
func (c *Chip) Register(reg core.Register) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[int(reg)&0x3F]
}

// Overflows counts samples lost to a full FIFO.
func (c *Chip) Overflows() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflows
}

// Produced counts samples measured so far.
func (c *Chip) Produced() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.produced
}
