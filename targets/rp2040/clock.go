//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"rampon/core"
)

// RP2040 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x08 // Raw timer high word
	timerTIMERAWL = timerBase + 0x0C // Raw timer low word
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// InitClock records the rate of the RP2040 timer: 1MHz from the 12MHz
// crystal through the watchdog tick divider.
func InitClock() {
	core.SetTimerFreq(1000000)
	UpdateSystemTime()
}

// GetHardwareTime returns the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// GetHardwareUptime reads the full 64-bit RP2040 hardware timer
func GetHardwareUptime() uint64 {
	// High, low, high again to detect a carry between the reads
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return (uint64(high1) << 32) | uint64(low)
		}
	}
}

// hardwareClock reads the timer on every call, so timestamps taken around
// an SPI transaction measure it.
type hardwareClock struct{}

func (hardwareClock) Now() core.Instant { return core.NewInstant(GetHardwareTime()) }

// Uptime serves get_uptime from the full 64-bit counter.
func (hardwareClock) Uptime() uint64 { return GetHardwareUptime() }

// UpdateSystemTime publishes the hardware time to core
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
