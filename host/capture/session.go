// Package capture drives an accelerometer measurement from the host: it
// configures the MCU, starts sampling, streams replies into a collector
// and stops with a final status.
package capture

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"rampon/core"
	"rampon/host/accel"
	"rampon/host/mcu"
	"rampon/protocol"
)

// StartDelay is how far ahead of the MCU clock sampling is scheduled.
const StartDelay = 50 * time.Millisecond

// ErrShutdown is returned when the MCU reports an emergency stop.
var ErrShutdown = errors.New("mcu is shut down")

// Options selects the sensor and stream parameters.
type Options struct {
	OID       uint8
	SPIOID    uint8
	RateHz    int
	ClockFreq uint32 // zero reads CLOCK_FREQ from the dictionary
	Encoding  string // empty reads ACCEL_ENCODING from the dictionary
	Axes      accel.AxesMap
}

// Session is one configured accelerometer on a connected MCU.
type Session struct {
	mcu       *mcu.MCU
	opt       Options
	clockFreq uint32
	encoding  core.ReplyEncoding
	collector *accel.Collector
}

// NewSession reads the parameters it needs from the MCU dictionary, which
// must already be retrieved.
func NewSession(m *mcu.MCU, opt Options, sink accel.Sink) (*Session, error) {
	dict := m.Dictionary()
	if dict == nil {
		return nil, mcu.ErrNoDictionary
	}
	if _, err := accel.RateCode(opt.RateHz); err != nil {
		return nil, err
	}

	freq := opt.ClockFreq
	if freq == 0 {
		f, err := dict.ConfigUint("CLOCK_FREQ")
		if err != nil {
			return nil, err
		}
		freq = f
	}

	name := opt.Encoding
	if built, err := dict.ConfigString("ACCEL_ENCODING"); err == nil {
		if name != "" && name != built {
			log.WithFields(log.Fields{
				"configured": name,
				"firmware":   built,
			}).Warnln("encoding differs from firmware, using firmware's")
		}
		name = built
	}
	enc, err := core.EncodingByName(name)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", name, err)
	}

	s := &Session{
		mcu:       m,
		opt:       opt,
		clockFreq: freq,
		encoding:  enc,
		collector: accel.NewCollector(opt.OID, enc.Name(), opt.RateHz, opt.Axes, sink),
	}
	m.Handle(enc.DataReply(), s.collector.HandleData)
	m.Handle(enc.StatusReply(), s.collector.HandleStatus)
	return s, nil
}

// Collector returns the collector fed by this session.
func (s *Session) Collector() *accel.Collector { return s.collector }

// Encoding returns the reply encoding the firmware was built with.
func (s *Session) Encoding() core.ReplyEncoding { return s.encoding }

// RestTicks is the polling interval sent with query_adxl345.
func (s *Session) RestTicks() uint32 {
	return s.clockFreq / uint32(s.opt.RateHz)
}

func (s *Session) configLines() []string {
	return []string{
		fmt.Sprintf("config_spi oid=%d pin=CS cs_active_high=0", s.opt.SPIOID),
		fmt.Sprintf("config_adxl345 oid=%d spi_oid=%d", s.opt.OID, s.opt.SPIOID),
	}
}

// ConfigCRC identifies this session's configuration to the MCU.
func (s *Session) ConfigCRC() uint32 {
	return crc32.ChecksumIEEE([]byte(strings.Join(s.configLines(), "\n")))
}

// Configure sends the object configuration unless the MCU already holds
// the same one.
func (s *Session) Configure(ctx context.Context) error {
	data, err := s.mcu.Query(ctx, "get_config", nil, "config")
	if err != nil {
		return err
	}
	var v [3]uint32
	for i := range v {
		if v[i], err = protocol.DecodeVLQUint(&data); err != nil {
			return fmt.Errorf("decode config reply: %w", err)
		}
	}
	isConfig, crc, isShutdown := v[0] != 0, v[1], v[2] != 0
	if isShutdown {
		return ErrShutdown
	}
	want := s.ConfigCRC()
	if isConfig && crc == want {
		log.WithField("crc", crc).Debugln("mcu already configured")
		return nil
	}
	if isConfig {
		log.WithField("crc", crc).Infoln("resetting foreign mcu configuration")
		if err := s.mcu.SendUints(ctx, "config_reset"); err != nil {
			return err
		}
	}

	pin, err := s.mcu.Dictionary().Enumeration("pin", "CS")
	if err != nil {
		return err
	}
	if err := s.mcu.SendUints(ctx, "config_spi", uint32(s.opt.SPIOID), pin, 0); err != nil {
		return err
	}
	if err := s.mcu.SendUints(ctx, "config_adxl345", uint32(s.opt.OID), uint32(s.opt.SPIOID)); err != nil {
		return err
	}
	return s.mcu.SendUints(ctx, "finalize_config", want)
}

func (s *Session) writeRegister(ctx context.Context, reg core.Register, value byte) error {
	return s.mcu.SendCommand(ctx, "spi_send", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(s.opt.SPIOID))
		protocol.EncodeVLQBytes(output, []byte{reg.Write(), value})
	})
}

// Clock returns the MCU's current clock.
func (s *Session) Clock(ctx context.Context) (core.Instant, error) {
	data, err := s.mcu.Query(ctx, "get_clock", nil, "clock")
	if err != nil {
		return 0, err
	}
	v, err := protocol.DecodeVLQUint(&data)
	if err != nil {
		return 0, fmt.Errorf("decode clock: %w", err)
	}
	return core.NewInstant(v), nil
}

// Start programs the chip and schedules sampling shortly after the
// current MCU clock.
func (s *Session) Start(ctx context.Context) error {
	code, err := accel.RateCode(s.opt.RateHz)
	if err != nil {
		return err
	}
	for _, w := range []struct {
		reg   core.Register
		value byte
	}{
		{core.RegPowerCtl, 0x00},
		{core.RegDataFormat, accel.DataFormatFullRes},
		{core.RegFIFOCtl, 0x00},
		{core.RegBWRate, code},
		{core.RegFIFOCtl, accel.FIFOCtlStream},
	} {
		if err := s.writeRegister(ctx, w.reg, w.value); err != nil {
			return fmt.Errorf("write %s: %w", w.reg, err)
		}
	}

	now, err := s.Clock(ctx)
	if err != nil {
		return err
	}
	delay := core.Duration(uint64(s.clockFreq) * uint64(StartDelay) / uint64(time.Second))
	start := now.Add(delay)

	s.collector.Reset()
	log.WithFields(log.Fields{
		"oid":        s.opt.OID,
		"clock":      start.Ticks(),
		"rest_ticks": s.RestTicks(),
	}).Infoln("starting accelerometer")
	return s.mcu.SendUints(ctx, "query_adxl345", uint32(s.opt.OID), start.Ticks(), s.RestTicks())
}

// Stop ends sampling and returns the status the MCU sends after draining.
func (s *Session) Stop(ctx context.Context) (accel.Status, error) {
	data, err := s.mcu.Query(ctx, "query_adxl345", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(s.opt.OID))
		protocol.EncodeVLQUint(output, 0)
		protocol.EncodeVLQUint(output, 0)
	}, s.encoding.StatusReply())
	if err != nil {
		return accel.Status{}, err
	}
	return accel.DecodeStatus(s.encoding.Name(), &data)
}

// Status asks for the current FIFO state without touching the stream.
func (s *Session) Status(ctx context.Context) (accel.Status, error) {
	data, err := s.mcu.Query(ctx, "query_adxl345_status", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(s.opt.OID))
	}, s.encoding.StatusReply())
	if err != nil {
		return accel.Status{}, err
	}
	return accel.DecodeStatus(s.encoding.Name(), &data)
}

// Run starts sampling, waits for duration or ctx, then stops. A duration
// of zero waits for ctx only. The stop is sent even when ctx ends early.
func (s *Session) Run(ctx context.Context, duration time.Duration) (accel.Stats, error) {
	if err := s.Start(ctx); err != nil {
		return accel.Stats{}, err
	}

	var expired <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(StartDelay + duration)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-expired:
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	status, err := s.Stop(stopCtx)
	if err != nil {
		return s.collector.Stats(), fmt.Errorf("stop: %w", err)
	}

	stats := s.collector.Stats()
	stats.Last = &status
	stats.Overflows = status.Overflows
	log.WithField("stats", stats.String()).Infoln("capture finished")
	return stats, nil
}

// Close removes the reply handlers.
func (s *Session) Close() {
	s.mcu.Handle(s.encoding.DataReply(), nil)
	s.mcu.Handle(s.encoding.StatusReply(), nil)
}
