// Package backoff computes retry delays. The policy is pure: it holds no
// clock and no state beyond its configuration, so scheduling stays trivially
// testable.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule with an optional jitter.
type Policy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool

	// Rand supplies jitter randomness. Nil uses the shared math/rand source.
	Rand *rand.Rand
}

// Default mirrors common production posture: 1s initial, doubling, 60s cap.
func Default() Policy {
	return Policy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     time.Minute,
		Jitter:       true,
	}
}

// NextDelay returns the delay before the attempt following retryCount prior
// failures: min(initial * multiplier^retryCount, max). With jitter enabled the
// result is drawn uniformly from [delay/2, delay] to spread retry storms.
func (p Policy) NextDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retryCount))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 1) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		delay = delay/2 + p.float64()*delay/2
	}
	return time.Duration(delay)
}

func (p Policy) float64() float64 {
	if p.Rand != nil {
		return p.Rand.Float64()
	}
	return rand.Float64()
}
