package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestNextDelaySchedule(t *testing.T) {
	p := Policy{InitialDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute}

	tests := []struct {
		name       string
		retryCount int
		want       time.Duration
	}{
		{name: "first retry", retryCount: 0, want: time.Second},
		{name: "second retry", retryCount: 1, want: 2 * time.Second},
		{name: "third retry", retryCount: 2, want: 4 * time.Second},
		{name: "sixth retry", retryCount: 5, want: 32 * time.Second},
		{name: "capped at max", retryCount: 6, want: time.Minute},
		{name: "far past the cap", retryCount: 50, want: time.Minute},
		{name: "negative clamps to zero", retryCount: -1, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.NextDelay(tt.retryCount); got != tt.want {
				t.Errorf("NextDelay(%d) = %v, want %v", tt.retryCount, got, tt.want)
			}
		})
	}
}

func TestNextDelayNonDecreasingAndBounded(t *testing.T) {
	p := Default()
	p.Jitter = false

	prev := time.Duration(0)
	for n := 0; n < 20; n++ {
		d := p.NextDelay(n)
		if d < prev {
			t.Fatalf("NextDelay(%d) = %v decreased below %v", n, d, prev)
		}
		if d > p.MaxDelay {
			t.Fatalf("NextDelay(%d) = %v exceeds cap %v", n, d, p.MaxDelay)
		}
		prev = d
	}
}

func TestNextDelayJitterRange(t *testing.T) {
	p := Policy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     time.Minute,
		Jitter:       true,
		Rand:         rand.New(rand.NewSource(1)),
	}

	for n := 0; n < 10; n++ {
		base := Policy{InitialDelay: p.InitialDelay, Multiplier: p.Multiplier, MaxDelay: p.MaxDelay}.NextDelay(n)
		for i := 0; i < 100; i++ {
			d := p.NextDelay(n)
			if d < base/2 || d > base {
				t.Fatalf("NextDelay(%d) = %v outside [%v, %v]", n, d, base/2, base)
			}
		}
	}
}
