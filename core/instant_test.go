package core

import (
	"math/rand"
	"testing"
)

func TestInstantAfter(t *testing.T) {
	cases := []struct {
		a, b  uint32
		after bool
	}{
		{1, 0, true},
		{0, 0, false},
		{0, 1, false},
		{0x7FFFFFFF, 0, true},
		{0x80000000, 0, false},
		{5, 0xFFFFFFF0, true},
		{0xFFFFFFF0, 5, false},
	}
	for _, c := range cases {
		if got := NewInstant(c.a).After(NewInstant(c.b)); got != c.after {
			t.Errorf("%#x after %#x: expected %v, got %v", c.a, c.b, c.after, got)
		}
	}
}

func TestInstantAfterMatchesHalfRange(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 10000; i++ {
		a, b := rng.Uint32(), rng.Uint32()
		d := a - b
		want := d != 0 && d < 1<<31
		if got := Instant(a).After(Instant(b)); got != want {
			t.Fatalf("%#x after %#x: expected %v, got %v", a, b, want, got)
		}
	}
}

func TestInstantArithmetic(t *testing.T) {
	start := NewInstant(0xFFFFFFF0)
	end := start.Add(0x20)

	if end.Ticks() != 0x10 {
		t.Errorf("Expected wrapped end 0x10, got %#x", end.Ticks())
	}
	if d := end.Sub(start); d != 0x20 {
		t.Errorf("Expected duration 0x20, got %#x", d)
	}
	if !end.After(start) {
		t.Error("End must be after start across the wrap")
	}
	if !end.Reached(end) {
		t.Error("A deadline is reached at its own instant")
	}
	if start.Reached(end) {
		t.Error("Start must not reach the later deadline")
	}
}

func TestSystemClockUptime(t *testing.T) {
	SetTime(0xFFFFFF00)
	high := GetUptime() >> 32
	SetTime(0x10)

	if now := (SystemClock{}).Now(); now != 0x10 {
		t.Errorf("Expected now 0x10, got %#x", now.Ticks())
	}
	if got := (SystemClock{}).Uptime() >> 32; got != high+1 {
		t.Errorf("Expected uptime high word %d after wrap, got %d", high+1, got)
	}
}
