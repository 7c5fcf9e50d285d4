package core

import (
	"testing"

	"rampon/protocol"
)

// fakeBus is a scripted drivers.SPI. Reads are answered from per-address
// queues keyed by the first transmitted byte; an empty queue answers zeros.
type fakeBus struct {
	writes [][]byte
	reads  map[byte][][]byte
	err    error
	onTx   func() // runs inside every transaction
}

func newFakeBus() *fakeBus {
	return &fakeBus{reads: make(map[byte][][]byte)}
}

func (b *fakeBus) queue(addr byte, replies ...[]byte) {
	b.reads[addr] = append(b.reads[addr], replies...)
}

func (b *fakeBus) queueSample(raw ...[]byte) {
	b.queue(RegDataX0.ReadMulti(), raw...)
}

func (b *fakeBus) queueFIFOStatus(values ...byte) {
	for _, v := range values {
		b.queue(RegFIFOStatus.Read(), []byte{0, v})
	}
}

func (b *fakeBus) Tx(w, r []byte) error {
	if b.onTx != nil {
		b.onTx()
	}
	if b.err != nil {
		return b.err
	}
	b.writes = append(b.writes, append([]byte(nil), w...))
	if r == nil || len(w) == 0 {
		return nil
	}
	for i := range r {
		r[i] = 0
	}
	if q := b.reads[w[0]]; len(q) > 0 {
		copy(r, q[0])
		b.reads[w[0]] = q[1:]
	}
	return nil
}

func (b *fakeBus) Transfer(c byte) (byte, error) {
	var rx [1]byte
	err := b.Tx([]byte{c}, rx[:])
	return rx[0], err
}

// count returns the number of transactions starting with addr.
func (b *fakeBus) count(addr byte) int {
	n := 0
	for _, w := range b.writes {
		if len(w) > 0 && w[0] == addr {
			n++
		}
	}
	return n
}

// recordingPin tracks chip select transitions.
type recordingPin struct {
	high  bool
	edges int
}

func (p *recordingPin) High() { p.high = true; p.edges++ }
func (p *recordingPin) Low()  { p.high = false; p.edges++ }

type sentReply struct {
	name string
	data []byte
}

// recordingSink captures encoded replies.
type recordingSink struct {
	replies []sentReply
}

func (s *recordingSink) SendResponse(name string, args func(output protocol.OutputBuffer)) {
	out := protocol.NewScratchOutput()
	args(out)
	s.replies = append(s.replies, sentReply{name: name, data: append([]byte(nil), out.Result()...)})
}

func (s *recordingSink) named(name string) []sentReply {
	var out []sentReply
	for _, r := range s.replies {
		if r.name == name {
			out = append(out, r)
		}
	}
	return out
}

// manualClock returns now and then advances by step.
type manualClock struct {
	now  Instant
	step Duration
}

func (c *manualClock) Now() Instant {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type dataReply struct {
	oid      uint32
	sequence uint32
	data     []byte
}

func decodeData(t *testing.T, r sentReply) dataReply {
	t.Helper()
	buf := r.data
	oid, err := protocol.DecodeVLQUint(&buf)
	if err != nil {
		t.Fatalf("%s oid: %v", r.name, err)
	}
	seq, err := protocol.DecodeVLQUint(&buf)
	if err != nil {
		t.Fatalf("%s sequence: %v", r.name, err)
	}
	data, err := protocol.DecodeVLQBytes(&buf)
	if err != nil {
		t.Fatalf("%s data: %v", r.name, err)
	}
	if len(buf) != 0 {
		t.Fatalf("%s has %d trailing bytes", r.name, len(buf))
	}
	return dataReply{oid: oid, sequence: seq, data: data}
}

// decodeUints decodes a reply made only of integer fields.
func decodeUints(t *testing.T, r sentReply) []uint32 {
	t.Helper()
	buf := r.data
	var out []uint32
	for len(buf) > 0 {
		v, err := protocol.DecodeVLQUint(&buf)
		if err != nil {
			t.Fatalf("%s field %d: %v", r.name, len(out), err)
		}
		out = append(out, v)
	}
	return out
}

// validRaw builds a burst read for 13-bit axis values with the given FIFO
// depth.
func validRaw(x, y, z int16, fifo byte) []byte {
	return []byte{
		0x00,
		byte(x), byte(uint16(x) >> 8),
		byte(y), byte(uint16(y) >> 8),
		byte(z), byte(uint16(z) >> 8),
		fifoCtlStream, fifo,
	}
}

type accelFixture struct {
	bus   *fakeBus
	cs    *recordingPin
	sink  *recordingSink
	clock *manualClock
	accel *AccelDriver
}

func newAccelFixture(t *testing.T, enc ReplyEncoding) *accelFixture {
	t.Helper()
	f := &accelFixture{
		bus:   newFakeBus(),
		cs:    &recordingPin{},
		sink:  &recordingSink{},
		clock: &manualClock{step: 3},
	}
	dev := NewSPIDevice(f.bus, f.cs, false)
	f.accel = NewAccelDriver(dev, f.clock, f.sink, enc)
	f.accel.Configure(7)
	return f
}

// running starts sampling at t=0 with the given rest ticks.
func (f *accelFixture) running(t *testing.T, rest Duration) {
	t.Helper()
	if err := f.accel.ScheduleStart(0, rest); err != nil {
		t.Fatalf("ScheduleStart: %v", err)
	}
	if err := f.accel.Tick(0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.accel.State() != AccelRunning {
		t.Fatalf("Expected running, got %s", f.accel.State())
	}
}
