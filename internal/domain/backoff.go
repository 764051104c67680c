package domain

import (
	"errors"
	"math/rand"
	"time"
)

// BackoffOptions configures exponential backoff with jitter, shared by both
// the per-file copy retry loop and the OpenList client's HTTP retry loop.
type BackoffOptions struct {
	Base     time.Duration
	MaxDelay time.Duration
	Jitter   float64 // fraction, e.g. 0.2 = +/-20%
}

// Delay returns the backoff for the given 1-based retry attempt.
func Delay(opt BackoffOptions, retry int, rng *rand.Rand) time.Duration {
	base := opt.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := opt.MaxDelay
	if maxD <= 0 {
		maxD = 15 * time.Second
	}
	j := opt.Jitter
	if j <= 0 {
		j = 0.2
	}

	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > maxD {
			d = maxD
			break
		}
	}
	if j > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > maxD {
		d = maxD
	}
	return d
}

// DelayWithHint behaves like Delay but honors an error implementing
// RetryAfterError, applying the same jitter fraction on top of the hint.
func DelayWithHint(opt BackoffOptions, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d := ra.RetryAfter()
		if d < 0 {
			d = 0
		}
		maxD := opt.MaxDelay
		if maxD <= 0 {
			maxD = 15 * time.Second
		}
		if d > maxD {
			d = maxD
		}
		j := opt.Jitter
		if j <= 0 {
			j = 0.2
		}
		if j > 0 && d > 0 && rng != nil {
			r := (rng.Float64()*2 - 1) * j
			d = time.Duration(float64(d) * (1 + r))
			if d < 0 {
				d = 0
			}
		}
		if d > maxD {
			d = maxD
		}
		return d
	}
	return Delay(opt, retry, rng)
}
