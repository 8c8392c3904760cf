// Package backoff computes delays between reconnect and retry attempts.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Delayer returns the wait before the given attempt. Attempt numbers start at 1.
type Delayer interface {
	Delay(attempt int) time.Duration
}

// Linear grows the delay by Unit per attempt and clamps it to Cap.
// The live session reconnect loop uses it: min(Unit*attempt, Cap).
type Linear struct {
	Unit time.Duration
	Cap  time.Duration
}

// Delay implements Delayer.
func (p Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Unit * time.Duration(attempt)
	if p.Cap > 0 && (d > p.Cap || d < 0) {
		return p.Cap
	}
	return d
}

// Exponential defines the parameters for exponential backoff with jitter.
type Exponential struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max clamps the computed delay.
	Max time.Duration
	// Factor is applied once per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top of the base delay.
	Jitter float64
}

// Delay implements Delayer.
func (p Exponential) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// DelayWithRand computes the delay using a provided random value in [0.0, 1.0).
// base = Initial * Factor^(attempt-1), result = min(Max, base + base*Jitter*random).
func (p Exponential) DelayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*randomValue
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total))
}

// DefaultExponential returns 100ms initial, 2x factor, 10% jitter, capped at 30s.
func DefaultExponential() Exponential {
	return Exponential{
		Initial: 100 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}
