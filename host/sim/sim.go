// Package sim runs the accelerometer firmware in-process against an
// emulated ADXL345, behind the same byte stream a serial port offers.
package sim

import (
	"errors"
	"io"
	"sync"
	"time"

	"rampon/core"
	"rampon/protocol"
)

// DefaultClockFreq matches the RP2040 timer.
const DefaultClockFreq = 1000000

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("simulator closed")

// Config describes the simulated board.
type Config struct {
	ClockFreq uint32
	Encoding  string
	Signal    SignalFunc
	// Clock overrides the wall clock derived from ClockFreq.
	Clock core.Clock
	// Interval between control loop passes. Zero disables the background
	// loop; callers then drive the firmware with Step.
	Interval time.Duration
}

// Simulator is an MCU running the firmware. It implements serial.Port.
type Simulator struct {
	mu   sync.Mutex
	fw   *core.Firmware
	chip *Chip
	out  *protocol.ScratchOutput

	rx      chan []byte
	pending []byte

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New builds the firmware and, when cfg.Interval is set, starts its loop.
func New(cfg Config) (*Simulator, error) {
	freq := cfg.ClockFreq
	if freq == 0 {
		freq = DefaultClockFreq
	}
	clock := cfg.Clock
	if clock == nil {
		clock = wallClock(freq)
	}

	s := &Simulator{
		chip:   NewChip(clock, freq, cfg.Signal),
		out:    protocol.NewScratchOutput(),
		rx:     make(chan []byte, 1024),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	fw, err := core.NewFirmware(core.FirmwareConfig{
		MCU:       "rampon-sim",
		ClockFreq: freq,
		Clock:     clock,
		Bus:       s.chip,
		CS:        nopPin{},
		Encoding:  cfg.Encoding,
	}, s.out)
	if err != nil {
		return nil, err
	}
	s.fw = fw
	s.fw.Transport().SetResetCallback(s.fw.ResetState)

	if cfg.Interval > 0 {
		go s.loop(cfg.Interval)
	} else {
		close(s.doneCh)
	}
	return s, nil
}

// wallClock counts freq ticks per second since the call.
func wallClock(freq uint32) core.Clock {
	start := time.Now()
	return core.ClockFunc(func() core.Instant {
		us := uint64(time.Since(start) / time.Microsecond)
		return core.NewInstant(uint32(us * uint64(freq) / 1000000))
	})
}

func (s *Simulator) loop(interval time.Duration) {
	defer close(s.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step runs the control loop until the accelerometer has nothing due, then
// flushes the replies.
func (s *Simulator) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < 2*fifoDepth; i++ {
		s.fw.Step(nil)
		s.flush()
		if s.fw.Accel().State() != core.AccelRunning {
			break
		}
	}
}

// flush moves encoded frames to the read side. Callers hold mu.
func (s *Simulator) flush() {
	data := s.out.Result()
	if len(data) == 0 {
		return
	}
	frame := append([]byte(nil), data...)
	s.out.Reset()
	select {
	case s.rx <- frame:
	case <-s.stopCh:
	}
}

// Write feeds host bytes to the firmware transport.
func (s *Simulator) Write(b []byte) (int, error) {
	select {
	case <-s.stopCh:
		return 0, ErrClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fw.Step(protocol.NewSliceInputBuffer(append([]byte(nil), b...)))
	s.flush()
	return len(b), nil
}

// Read returns bytes the firmware sent, blocking until some are available.
func (s *Simulator) Read(b []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case frame := <-s.rx:
			s.pending = frame
		case <-s.stopCh:
			return 0, io.EOF
		}
	}
	n := copy(b, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Flush implements serial.Port.
func (s *Simulator) Flush() error { return nil }

// Close stops the loop and unblocks Read.
func (s *Simulator) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return nil
}

// Firmware exposes the simulated firmware.
func (s *Simulator) Firmware() *core.Firmware { return s.fw }

// Chip exposes the emulated accelerometer.
func (s *Simulator) Chip() *Chip { return s.chip }

type nopPin struct{}

func (nopPin) High() {}
func (nopPin) Low()  {}
