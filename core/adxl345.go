package core

import (
	"errors"

	"rampon/protocol"
)

// AccelState is the sampling lifecycle of an AccelDriver.
type AccelState uint8

const (
	// AccelIdle: not sampling, measurement mode off.
	AccelIdle AccelState = iota
	// AccelScheduledStart: measurement starts at the armed start time.
	AccelScheduledStart
	// AccelRunning: the FIFO is polled at every wake time.
	AccelRunning
	// AccelStoppingDrain: inside Stop, draining the FIFO.
	AccelStoppingDrain
	// AccelFault: a bus transaction failed. Sampling is suspended until
	// the driver is configured again.
	AccelFault
)

func (s AccelState) String() string {
	switch s {
	case AccelIdle:
		return "idle"
	case AccelScheduledStart:
		return "scheduled"
	case AccelRunning:
		return "running"
	case AccelStoppingDrain:
		return "draining"
	case AccelFault:
		return "fault"
	}
	return "state(" + itoa(int(s)) + ")"
}

var (
	// ErrBusFault matches every BusFault with errors.Is.
	ErrBusFault = errors.New("adxl345: bus fault")
	// ErrDriverFault is returned by sampling commands while in AccelFault.
	ErrDriverFault = errors.New("adxl345: driver faulted, reconfigure to resume")
)

// BusFault is a failed SPI transaction.
type BusFault struct {
	Op  string
	Err error
}

func (e *BusFault) Error() string {
	return "adxl345: " + e.Op + ": " + e.Err.Error()
}

func (e *BusFault) Unwrap() error { return e.Err }

func (e *BusFault) Is(target error) bool { return target == ErrBusFault }

// AccelDriver samples an ADXL345 over SPI and streams packed samples to the
// host. It owns its SPIDevice exclusively and is driven from the control
// loop only: commands and Tick never run concurrently.
type AccelDriver struct {
	dev   *SPIDevice
	clock Clock
	sink  ReplySink
	enc   ReplyEncoding

	oid       uint8
	state     AccelState
	startTime Instant
	wakeTime  Instant
	restTicks Duration
	sequence  uint16
	limit     uint16 // near-full FIFO reads, wraps
	buffer    SampleBuffer
	fault     error
}

// NewAccelDriver binds the driver to dev and primes the chip's SPI
// interface with a DEVID read.
func NewAccelDriver(dev *SPIDevice, clock Clock, sink ReplySink, enc ReplyEncoding) *AccelDriver {
	if enc == nil {
		enc = ADXL345Encoding{}
	}
	a := &AccelDriver{
		dev:   dev,
		clock: clock,
		sink:  sink,
		enc:   enc,
	}
	if err := dev.Send([]byte{RegDevID.Read(), 0}); err != nil {
		a.fail("prime", err)
	}
	return a
}

// Configure sets the oid used in replies. It also clears a fault.
func (a *AccelDriver) Configure(oid uint8) {
	a.oid = oid
	if a.state == AccelFault {
		a.state = AccelIdle
		a.fault = nil
		DebugPrintln("[ADXL] fault cleared")
	}
}

// ScheduleStart arms a measurement start at the given time. Sequence,
// overflow count and any unreported samples are reset.
func (a *AccelDriver) ScheduleStart(at Instant, rest Duration) error {
	if a.state == AccelFault {
		return ErrDriverFault
	}
	a.sequence = 0
	a.limit = 0
	a.buffer.Clear()
	a.restTicks = rest
	a.startTime = at
	a.state = AccelScheduledStart
	RecordTiming(EvtAccelSchedule, a.oid, a.clock.Now().Ticks(), at.Ticks(), uint32(rest))
	return nil
}

// Stop powers the chip down, drains what is left in its FIFO, reports the
// remaining samples and sends one status reply bracketing the power-down.
func (a *AccelDriver) Stop() error {
	if a.state == AccelFault {
		return ErrDriverFault
	}
	a.state = AccelStoppingDrain

	before := a.clock.Now()
	err := a.dev.Send([]byte{RegPowerCtl.Write(), powerCtlStandby})
	after := a.clock.Now()
	if err != nil {
		return a.fail("power down", err)
	}

	var status uint8
	drained := 0
	for i := 0; i < drainLimit; i++ {
		status, err = a.readFIFOStatus()
		if err != nil {
			return err
		}
		fifo := status & 0x3F
		if fifo == 0 || fifo > fifoEntriesMax {
			break
		}
		if _, err := a.query(); err != nil {
			return err
		}
		drained++
	}

	if !a.buffer.Empty() {
		a.report()
	}
	a.sendStatus(before, after, status)
	a.state = AccelIdle
	RecordTiming(EvtAccelStop, a.oid, after.Ticks(), uint32(drained), uint32(status))
	return nil
}

// Tick advances the state machine. It is called once per loop iteration.
func (a *AccelDriver) Tick(now Instant) error {
	switch a.state {
	case AccelScheduledStart:
		if !now.Reached(a.startTime) {
			return nil
		}
		if err := a.dev.Send([]byte{RegPowerCtl.Write(), powerCtlMeasure}); err != nil {
			return a.fail("power up", err)
		}
		a.state = AccelRunning
		a.wakeTime = now.Add(a.restTicks)
		RecordTiming(EvtAccelStart, a.oid, now.Ticks(), a.wakeTime.Ticks(), 0)
	case AccelRunning:
		if !now.Reached(a.wakeTime) {
			return nil
		}
		delay, err := a.query()
		if err != nil {
			return err
		}
		a.wakeTime = now.Add(delay)
	}
	return nil
}

// StatusQuery reads FIFO_STATUS and sends a status reply. The lifecycle
// state and the sample buffer are left alone.
func (a *AccelDriver) StatusQuery() error {
	before := a.clock.Now()
	status, err := a.readFIFOStatus()
	after := a.clock.Now()
	if err != nil {
		return err
	}
	a.sendStatus(before, after, status)
	return nil
}

// Send writes raw bytes to the chip.
func (a *AccelDriver) Send(tx []byte) error {
	if err := a.dev.Send(tx); err != nil {
		return a.fail("send", err)
	}
	return nil
}

// Transfer exchanges raw bytes with the chip.
func (a *AccelDriver) Transfer(tx, rx []byte) error {
	if err := a.dev.Transfer(tx, rx); err != nil {
		return a.fail("transfer", err)
	}
	return nil
}

// Shutdown turns measurement off without reporting. Used by
// emergency_stop; bus errors are ignored.
func (a *AccelDriver) Shutdown() {
	if a.state == AccelRunning || a.state == AccelScheduledStart {
		_ = a.dev.Send([]byte{RegPowerCtl.Write(), powerCtlStandby})
	}
	if a.state != AccelFault {
		a.state = AccelIdle
	}
}

func (a *AccelDriver) OID() uint8          { return a.oid }
func (a *AccelDriver) State() AccelState   { return a.state }
func (a *AccelDriver) Sequence() uint16    { return a.sequence }
func (a *AccelDriver) LimitCount() uint16  { return a.limit }
func (a *AccelDriver) Buffered() int       { return a.buffer.Count() }
func (a *AccelDriver) RestTicks() Duration { return a.restTicks }
func (a *AccelDriver) WakeTime() Instant   { return a.wakeTime }
func (a *AccelDriver) StartTime() Instant  { return a.startTime }

// Encoding returns the reply encoding in use.
func (a *AccelDriver) Encoding() ReplyEncoding { return a.enc }

// Fault returns the error that moved the driver into AccelFault, or nil.
func (a *AccelDriver) Fault() error { return a.fault }

// query reads one sample with a burst read and buffers it. The returned
// delay is 0 while the FIFO still holds samples, restTicks otherwise.
func (a *AccelDriver) query() (Duration, error) {
	tx := [RawSampleSize]byte{RegDataX0.ReadMulti()}
	var rx [RawSampleSize]byte
	if err := a.dev.Transfer(tx[:], rx[:]); err != nil {
		return 0, a.fail("query", err)
	}

	fifo := rx[8] & 0x7F
	if validSample(rx[:]) {
		a.buffer.Push(rx[:])
	} else {
		a.buffer.PushPacked(SentinelSample)
		RecordTiming(EvtAccelBadSample, a.oid, a.clock.Now().Ticks(), uint32(rx[7]), uint32(rx[8]))
		fifo = 0
	}

	if a.buffer.Full() {
		a.report()
	}
	if fifo >= fifoNearFull {
		a.limit++
		RecordTiming(EvtAccelOverflow, a.oid, a.clock.Now().Ticks(), uint32(fifo), uint32(a.limit))
	}
	if fifo > 0 {
		return 0, nil
	}
	return a.restTicks, nil
}

// validSample checks a burst read: each high byte must be a clean sign
// extension, FIFO_CTL must read back as configured and the FIFO depth must
// be possible.
func validSample(d []byte) bool {
	for _, hi := range [3]byte{d[2], d[4], d[6]} {
		if top := hi & 0xF0; top != 0x00 && top != 0xF0 {
			return false
		}
	}
	return d[7] == fifoCtlStream && d[8]&0x7F <= fifoEntriesMax
}

func (a *AccelDriver) readFIFOStatus() (uint8, error) {
	tx := [2]byte{RegFIFOStatus.Read(), 0}
	var rx [2]byte
	if err := a.dev.Transfer(tx[:], rx[:]); err != nil {
		return 0, a.fail("fifo status", err)
	}
	return rx[1], nil
}

// report sends the buffered samples and starts the next sequence.
func (a *AccelDriver) report() {
	seq, data := a.sequence, a.buffer.Contents()
	a.sink.SendResponse(a.enc.DataReply(), func(output protocol.OutputBuffer) {
		a.enc.EncodeData(output, a.oid, seq, data)
	})
	RecordTiming(EvtAccelReport, a.oid, a.clock.Now().Ticks(), uint32(seq), uint32(len(data)))
	a.buffer.Clear()
	a.sequence++
}

func (a *AccelDriver) sendStatus(before, after Instant, fifo uint8) {
	s := StatusReport{
		OID:          a.oid,
		Clock:        before,
		QueryTicks:   after.Sub(before),
		NextSequence: a.sequence,
		Buffered:     a.buffer.Count(),
		FIFO:         fifo,
		Overflows:    a.limit,
	}
	a.sink.SendResponse(a.enc.StatusReply(), func(output protocol.OutputBuffer) {
		a.enc.EncodeStatus(output, s)
	})
}

func (a *AccelDriver) fail(op string, err error) error {
	fault := &BusFault{Op: op, Err: err}
	RecordTiming(EvtAccelFault, a.oid, a.clock.Now().Ticks(), uint32(a.state), 0)
	DebugPrintln("[ADXL] " + fault.Error())
	a.state = AccelFault
	a.fault = fault
	return fault
}
