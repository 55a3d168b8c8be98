package client

import (
	"testing"
	"time"
)

func TestBackoffDoublesAndClampsToMax(t *testing.T) {
	b := newBackoff(1000*time.Millisecond, 5000*time.Millisecond, 0)
	want := []time.Duration{1000, 2000, 4000, 5000, 5000}
	for i, w := range want {
		got := b.duration()
		if got != w*time.Millisecond {
			t.Fatalf("attempt %d: got %v, want %v", i, got, w*time.Millisecond)
		}
	}
}

func TestBackoffResetReturnsToBase(t *testing.T) {
	b := newBackoff(1000*time.Millisecond, 5000*time.Millisecond, 0)
	b.duration()
	b.duration()
	b.reset()
	if got := b.duration(); got != 1000*time.Millisecond {
		t.Fatalf("got %v, want base 1000ms after reset", got)
	}
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	b := newBackoff(1000*time.Millisecond, 5000*time.Millisecond, 0.5)
	for i, r := range []float64{0.0, 0.25, 0.49, 0.5, 0.75, 0.999} {
		b.rand = func() float64 { return r }
		b.current = 2000 * time.Millisecond
		d := b.duration()
		lo := time.Duration(float64(2000*time.Millisecond) * 0.5)
		hi := time.Duration(float64(2000*time.Millisecond) * 1.5)
		if d < lo || d > hi {
			t.Fatalf("case %d (rand=%v): delay %v out of [%v, %v]", i, r, d, lo, hi)
		}
	}
}

func TestBackoffNeverExceedsDelayMax(t *testing.T) {
	b := newBackoff(1000*time.Millisecond, 5000*time.Millisecond, 0.5)
	b.rand = func() float64 { return 0.999 } // maximal positive jitter
	b.current = 5000 * time.Millisecond
	if d := b.duration(); d > 5000*time.Millisecond {
		t.Fatalf("got %v, want <= delayMax", d)
	}
}
