package core

import "sync/atomic"

// TimerFreq is the default tick rate; targets override it through
// SetTimerFreq when their counter runs at a different rate.
const TimerFreq = 1000000

var (
	timerFreq uint32 = TimerFreq

	// systemTicks mirrors the low word of the hardware timer. The target
	// updates it from the control loop; uptimeHigh counts its wraps.
	systemTicks uint32
	uptimeHigh  uint32
)

// SetTimerFreq records the rate of the hardware timer in Hz.
func SetTimerFreq(hz uint32) {
	timerFreq = hz
}

// GetTimerFreq returns the rate of the hardware timer in Hz.
func GetTimerFreq() uint32 {
	return timerFreq
}

// GetTime returns the current system time in timer ticks.
func GetTime() uint32 {
	return atomic.LoadUint32(&systemTicks)
}

// SetTime publishes a new hardware timer reading. A reading below the
// previous one is a counter wrap and advances the uptime high word.
func SetTime(ticks uint32) {
	if prev := atomic.SwapUint32(&systemTicks, ticks); ticks < prev {
		atomic.AddUint32(&uptimeHigh, 1)
	}
}

// GetUptime returns the 64-bit uptime in timer ticks.
func GetUptime() uint64 {
	return uint64(atomic.LoadUint32(&uptimeHigh))<<32 | uint64(GetTime())
}

// SystemClock reads the time published with SetTime.
type SystemClock struct{}

func (SystemClock) Now() Instant { return Instant(GetTime()) }

// Uptime returns the 64-bit tick count.
func (SystemClock) Uptime() uint64 { return GetUptime() }
