package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rampon/core"
	"rampon/protocol"
)

type stepClock struct{ now core.Instant }

func (c *stepClock) Now() core.Instant { return c.now }

func (c *stepClock) advance(d core.Duration) { c.now = c.now.Add(d) }

func ramp(n uint32) (x, y, z int16) {
	return int16(n), -int16(n), 256
}

func TestChipReportsDevID(t *testing.T) {
	chip := NewChip(&stepClock{}, 1000, nil)
	rx := make([]byte, 2)
	require.NoError(t, chip.Tx([]byte{core.RegDevID.Read(), 0}, rx))
	require.Equal(t, byte(core.DevIDValue), rx[1])
}

func TestChipFillsFIFOAtDataRate(t *testing.T) {
	clock := &stepClock{}
	chip := NewChip(clock, 1000, ramp) // 0x0A is 100 Hz, 10 ticks per sample
	require.NoError(t, chip.Tx([]byte{core.RegFIFOCtl.Write(), 0x90}, nil))
	require.NoError(t, chip.Tx([]byte{core.RegPowerCtl.Write(), 0x08}, nil))
	require.True(t, chip.Measuring())

	clock.advance(55)
	rx := make([]byte, 2)
	require.NoError(t, chip.Tx([]byte{core.RegFIFOStatus.Read(), 0}, rx))
	require.Equal(t, byte(5), rx[1])

	burst := make([]byte, core.RawSampleSize)
	require.NoError(t, chip.Tx([]byte{core.RegDataX0.ReadMulti(), 0, 0, 0, 0, 0, 0, 0, 0}, burst))
	x, y, z := core.PackSample(burst).Axes()
	require.Equal(t, []int16{0, 0, 256}, []int16{x, y, z})
	require.Equal(t, byte(0x90), burst[7])
	require.Equal(t, byte(4), burst[8])

	require.NoError(t, chip.Tx([]byte{core.RegDataX0.ReadMulti(), 0, 0, 0, 0, 0, 0, 0, 0}, burst))
	x, y, _ = core.PackSample(burst).Axes()
	require.Equal(t, int16(1), x)
	require.Equal(t, int16(-1), y)
}

func TestChipOverflowsWhenNotDrained(t *testing.T) {
	clock := &stepClock{}
	chip := NewChip(clock, 1000, nil)
	require.NoError(t, chip.Tx([]byte{core.RegPowerCtl.Write(), 0x08}, nil))

	clock.advance(1000)
	rx := make([]byte, 2)
	require.NoError(t, chip.Tx([]byte{core.RegFIFOStatus.Read(), 0}, rx))
	require.Equal(t, byte(fifoDepth), rx[1])
	require.Equal(t, uint32(100), chip.Produced())
	require.Equal(t, uint32(100-fifoDepth), chip.Overflows())
}

func TestChipStandbyStopsSampling(t *testing.T) {
	clock := &stepClock{}
	chip := NewChip(clock, 1000, nil)
	require.NoError(t, chip.Tx([]byte{core.RegPowerCtl.Write(), 0x08}, nil))
	clock.advance(20)
	require.NoError(t, chip.Tx([]byte{core.RegPowerCtl.Write(), 0x00}, nil))
	clock.advance(1000)

	rx := make([]byte, 2)
	require.NoError(t, chip.Tx([]byte{core.RegFIFOStatus.Read(), 0}, rx))
	require.Equal(t, byte(2), rx[1])
	require.False(t, chip.Measuring())
}

func TestSimulatorAnswersIdentify(t *testing.T) {
	s, err := New(Config{Clock: &stepClock{}})
	require.NoError(t, err)
	defer s.Close()

	frame, err := protocol.EncodeCommand(protocol.MessageDest, 1, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, 40)
	})
	require.NoError(t, err)
	n, err := s.Write(frame)
	require.NoError(t, err)
	require.Equal(t, len(frame), n)

	buf := make([]byte, 256)
	n, err = s.Read(buf)
	require.NoError(t, err)
	require.Greater(t, n, 40)
	require.Equal(t, byte(protocol.MessageValueSync), buf[n-1])
}

func TestSimulatorClose(t *testing.T) {
	s, err := New(Config{Clock: &stepClock{}})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Write([]byte{0})
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.Read(make([]byte, 8))
	require.Error(t, err)
}
