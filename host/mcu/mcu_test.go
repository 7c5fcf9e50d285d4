package mcu

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rampon/core"
	"rampon/host/sim"
	"rampon/protocol"
)

type fixedClock struct{}

func (fixedClock) Now() core.Instant { return core.NewInstant(1000) }

func connect(t *testing.T, encoding string) (*MCU, *sim.Simulator) {
	t.Helper()
	s, err := sim.New(sim.Config{Clock: fixedClock{}, Encoding: encoding})
	require.NoError(t, err)
	m := New(s)
	t.Cleanup(func() { _ = m.Close() })
	return m, s
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRetrieveDictionary(t *testing.T) {
	m, s := connect(t, "")
	ctx := testContext(t)
	require.NoError(t, m.RetrieveDictionary(ctx))

	dict := m.Dictionary()
	require.NotNil(t, dict)
	require.Equal(t, "rampon-sim", dict.Config["MCU"])
	freq, err := dict.ConfigUint("CLOCK_FREQ")
	require.NoError(t, err)
	require.Equal(t, uint32(sim.DefaultClockFreq), freq)

	enc, err := dict.ConfigString("ACCEL_ENCODING")
	require.NoError(t, err)
	require.Equal(t, "adxl345", enc)

	id, format, err := dict.Command("query_adxl345")
	require.NoError(t, err)
	require.Equal(t, "query_adxl345 oid=%c clock=%u rest_ticks=%u", format)
	cmd, ok := s.Firmware().Registry().GetCommandByName("query_adxl345")
	require.True(t, ok)
	require.Equal(t, cmd.ID, id)

	bus, err := dict.Enumeration("spi_bus", "spi1")
	require.NoError(t, err)
	require.Equal(t, uint32(1), bus)

	require.NotEmpty(t, m.DictionaryRaw())
	require.Contains(t, dict.Summary(), "adxl345_status")
}

func TestCommandsNeedDictionary(t *testing.T) {
	m, _ := connect(t, "")
	ctx := testContext(t)

	err := m.SendUints(ctx, "get_config")
	require.ErrorIs(t, err, ErrNoDictionary)

	require.NoError(t, m.RetrieveDictionary(ctx))
	require.Error(t, m.SendUints(ctx, "no_such_command"))
}

func TestQueryConfig(t *testing.T) {
	m, _ := connect(t, "")
	ctx := testContext(t)
	require.NoError(t, m.RetrieveDictionary(ctx))

	require.NoError(t, m.SendUints(ctx, "finalize_config", 0x1234))
	data, err := m.Query(ctx, "get_config", nil, "config")
	require.NoError(t, err)

	isConfig, err := protocol.DecodeVLQUint(&data)
	require.NoError(t, err)
	crc, err := protocol.DecodeVLQUint(&data)
	require.NoError(t, err)
	require.Equal(t, uint32(1), isConfig)
	require.Equal(t, uint32(0x1234), crc)
}

func TestHandleRoutesByName(t *testing.T) {
	m, _ := connect(t, "bulk")
	ctx := testContext(t)
	require.NoError(t, m.RetrieveDictionary(ctx))

	got := make(chan uint32, 1)
	m.Handle("sensor_bulk_status", func(data *[]byte) error {
		oid, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		got <- oid
		return nil
	})

	require.NoError(t, m.SendUints(ctx, "config_adxl345", 3, 0))
	require.NoError(t, m.SendUints(ctx, "query_adxl345_status", 3))

	select {
	case oid := <-got:
		require.Equal(t, uint32(3), oid)
	case <-ctx.Done():
		t.Fatal("no status reply")
	}

	m.Handle("sensor_bulk_status", nil)
}

func TestQueryUnknownResponse(t *testing.T) {
	m, _ := connect(t, "")
	ctx := testContext(t)
	require.NoError(t, m.RetrieveDictionary(ctx))

	_, err := m.Query(ctx, "get_config", nil, "sensor_bulk_status")
	require.Error(t, err)
}

func TestClosedMCU(t *testing.T) {
	m, _ := connect(t, "")
	ctx := testContext(t)
	require.NoError(t, m.RetrieveDictionary(ctx))
	require.NoError(t, m.Close())

	require.False(t, m.IsConnected())
	require.ErrorIs(t, m.SendUints(ctx, "get_config"), ErrNotConnected)
	require.ErrorIs(t, m.RetrieveDictionary(ctx), ErrNotConnected)
}
