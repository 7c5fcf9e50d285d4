package core

// Instant is a reading of the free-running 32-bit hardware timer. The
// counter wraps, so two instants can only be ordered when they are less than
// half the counter range (2^31 ticks) apart.
type Instant uint32

// Duration is a tick count between two instants.
type Duration uint32

// halfRange is the ordering horizon of Instant.
const halfRange = 1 << 31

// NewInstant wraps a raw tick value, e.g. the clock argument of a command.
func NewInstant(ticks uint32) Instant {
	return Instant(ticks)
}

// Ticks returns the raw tick value.
func (i Instant) Ticks() uint32 {
	return uint32(i)
}

// Add returns i+d modulo 2^32.
func (i Instant) Add(d Duration) Instant {
	return i + Instant(d)
}

// Sub returns the elapsed ticks from earlier to i modulo 2^32.
func (i Instant) Sub(earlier Instant) Duration {
	return Duration(i - earlier)
}

// After reports whether i is strictly later than other: (i - other) mod
// 2^32 is nonzero and below 2^31.
func (i Instant) After(other Instant) bool {
	d := uint32(i - other)
	return d != 0 && d < halfRange
}

// Reached reports whether deadline has come, i.e. i is at or after it.
func (i Instant) Reached(deadline Instant) bool {
	return i == deadline || i.After(deadline)
}

// Clock is a free-running tick source.
type Clock interface {
	Now() Instant
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() Instant

func (f ClockFunc) Now() Instant { return f() }
