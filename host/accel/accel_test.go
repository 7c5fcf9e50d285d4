package accel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"rampon/core"
	"rampon/protocol"
)

func rawSample(x, y, z int16) []byte {
	return []byte{0,
		byte(x), byte(uint16(x) >> 8),
		byte(y), byte(uint16(y) >> 8),
		byte(z), byte(uint16(z) >> 8)}
}

func dataArgs(oid uint8, seq uint16, samples ...core.PackedSample) []byte {
	out := protocol.NewScratchOutput()
	payload := make([]byte, 0, len(samples)*core.PackedSampleSize)
	for _, s := range samples {
		payload = append(payload, s[:]...)
	}
	core.ADXL345Encoding{}.EncodeData(out, oid, seq, payload)
	return append([]byte(nil), out.Result()...)
}

func statusArgs(enc core.ReplyEncoding, s core.StatusReport) []byte {
	out := protocol.NewScratchOutput()
	enc.EncodeStatus(out, s)
	return append([]byte(nil), out.Result()...)
}

type recordingSink struct {
	batches []Batch
	err     error
}

func (r *recordingSink) Publish(b Batch) error {
	r.batches = append(r.batches, b)
	return r.err
}

func TestRateCode(t *testing.T) {
	code, err := RateCode(3200)
	require.NoError(t, err)
	require.Equal(t, byte(0x0F), code)

	_, err = RateCode(300)
	require.ErrorIs(t, err, ErrInvalidRate)

	require.Equal(t, []int{25, 50, 100, 200, 400, 800, 1600, 3200}, Rates())
}

func TestParseAxesMap(t *testing.T) {
	m, err := ParseAxesMap(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultAxes, m)

	m, err = ParseAxesMap([]string{"-y", "x", "Z"})
	require.NoError(t, err)
	x, y, z := m.Apply(10, 20, 256)
	require.InDelta(t, -20*ScaleXY, x, 1e-9)
	require.InDelta(t, 10*ScaleXY, y, 1e-9)
	require.InDelta(t, 256*ScaleZ, z, 1e-9)

	_, err = ParseAxesMap([]string{"x", "x", "z"})
	require.Error(t, err)
	_, err = ParseAxesMap([]string{"x", "y"})
	require.Error(t, err)
	_, err = ParseAxesMap([]string{"x", "y", "w"})
	require.Error(t, err)
}

func TestDecodeData(t *testing.T) {
	args := dataArgs(4, 0x1234, core.PackSample(rawSample(-5, 4095, -4096)), core.SentinelSample)
	reply, err := DecodeData(&args)
	require.NoError(t, err)
	require.Equal(t, uint8(4), reply.OID)
	require.Equal(t, uint16(0x1234), reply.Sequence)
	require.Len(t, reply.Samples, 2)

	x, y, z := reply.Samples[0].Axes()
	require.Equal(t, []int16{-5, 4095, -4096}, []int16{x, y, z})
	require.True(t, reply.Samples[1].IsSentinel())
}

func TestDecodeDataRejectsPartialSample(t *testing.T) {
	out := protocol.NewScratchOutput()
	core.ADXL345Encoding{}.EncodeData(out, 1, 0, []byte{1, 2, 3})
	args := append([]byte(nil), out.Result()...)
	_, err := DecodeData(&args)
	require.Error(t, err)

	truncated := []byte{1}
	_, err = DecodeData(&truncated)
	require.Error(t, err)
}

func TestDecodeStatusBothEncodings(t *testing.T) {
	report := core.StatusReport{
		OID:          2,
		Clock:        core.NewInstant(0xFFFFFFF0),
		QueryTicks:   17,
		NextSequence: 9,
		Buffered:     15,
		FIFO:         0x85,
		Overflows:    3,
	}

	args := statusArgs(core.ADXL345Encoding{}, report)
	s, err := DecodeStatus(core.EncodingADXL345, &args)
	require.NoError(t, err)
	require.Equal(t, Status{OID: 2, Clock: 0xFFFFFFF0, QueryTicks: 17, NextSequence: 9,
		Buffered: 15, FIFO: 0x85, Overflows: 3}, s)
	require.Equal(t, uint32(3+5), s.Pending())

	args = statusArgs(core.BulkEncoding{}, report)
	s, err = DecodeStatus(core.EncodingBulk, &args)
	require.NoError(t, err)
	require.Equal(t, uint32(15+5*5), s.Buffered)
	require.Equal(t, uint8(0), s.FIFO)
	require.Equal(t, uint16(3), s.Overflows)
	require.Equal(t, uint32(8), s.Pending())

	_, err = DecodeStatus("other", &args)
	require.ErrorIs(t, err, core.ErrUnknownEncoding)
}

func TestCollectorCountsGapsAndSentinels(t *testing.T) {
	sink := &recordingSink{}
	c := NewCollector(4, core.EncodingADXL345, 100, DefaultAxes, sink)
	c.KeepMeasurements(true)

	good := core.PackSample(rawSample(1, 2, 256))
	for _, seq := range []uint16{0xFFFE, 0xFFFF, 0x0002} {
		args := dataArgs(4, seq, good, core.SentinelSample, good)
		require.NoError(t, c.HandleData(&args))
	}
	other := dataArgs(5, 3, good)
	require.NoError(t, c.HandleData(&other))

	st := c.Stats()
	require.Equal(t, 3, st.Replies)
	require.Equal(t, 6, st.Samples)
	require.Equal(t, 3, st.Invalid)
	require.Equal(t, uint64(2), st.MissedReplies)

	require.Len(t, sink.batches, 3)
	require.Equal(t, uint64(0xFFFE), sink.batches[0].Sequence)
	require.Equal(t, uint64(0x10002), sink.batches[2].Sequence)

	ms := c.Measurements()
	require.Len(t, ms, 6)
	require.Equal(t, uint64(0xFFFE)*samplesPerReply+2, ms[1].Index)
	require.InDelta(t, float64(ms[1].Index)/100, ms[1].Time, 1e-9)
	require.InDelta(t, 256*ScaleZ, ms[0].Z, 1e-9)
}

func TestCollectorIgnoresDuplicate(t *testing.T) {
	c := NewCollector(1, "", 0, DefaultAxes, nil)
	args := dataArgs(1, 7, core.SentinelSample)
	require.NoError(t, c.HandleData(&args))
	args = dataArgs(1, 7, core.SentinelSample)
	require.NoError(t, c.HandleData(&args))

	st := c.Stats()
	require.Equal(t, 1, st.Replies)
	require.Zero(t, st.MissedReplies)
}

func TestCollectorStatusAndReset(t *testing.T) {
	c := NewCollector(2, core.EncodingBulk, 400, DefaultAxes, nil)
	args := statusArgs(core.BulkEncoding{}, core.StatusReport{OID: 2, NextSequence: 4, Overflows: 6})
	require.NoError(t, c.HandleStatus(&args))

	st := c.Stats()
	require.NotNil(t, st.Last)
	require.Equal(t, uint16(4), st.Last.NextSequence)
	require.Equal(t, uint16(6), st.Overflows)
	require.Contains(t, st.String(), "overflows=6")

	c.Reset()
	require.Nil(t, c.Stats().Last)
}

func TestCollectorSinkError(t *testing.T) {
	boom := errors.New("broker down")
	c := NewCollector(1, "", 100, DefaultAxes, &recordingSink{err: boom})
	args := dataArgs(1, 0, core.PackSample(rawSample(0, 0, 0)))
	require.ErrorIs(t, c.HandleData(&args), boom)
}
