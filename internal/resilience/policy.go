package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy describes how failed tasks are rescheduled. The policy only
// computes delays; the schedule itself (attempt counter, next-eligible time)
// is persisted alongside the task so retry behavior stays inspectable.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 4.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 30s.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed delay. Default: 10m.
	MaxBackoff time.Duration

	// Multiplier scales the delay after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction randomizes the delay by ±fraction. Default: 0.25.
	JitterFraction float64
}

// DefaultRetryPolicy returns the OCR task policy: 30s initial backoff,
// doubling per attempt, capped at 10 minutes, 4 attempts total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     10 * time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 4
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 30 * time.Second
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Minute
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	return p
}

// ShouldRetry reports whether a failure on the given attempt (1-based) may
// be retried. Permanent errors never retry.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	p = p.withDefaults()
	if attempt >= p.MaxAttempts {
		return false
	}
	return IsTransient(err)
}

// Backoff returns the jittered delay before the retry following the given
// attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}

	if p.JitterFraction > 0 {
		jitterRange := delay * p.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
