// Copyright 2023 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package backoff implements a small exponential-backoff helper. In this
// repo the pulse assembler uses NextDuration to space its Chain Store
// commit retries.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Exponential produces a sequence of doubling durations between min and
// max, optionally randomized by up to jitter. It is not safe for
// concurrent use by multiple goroutines; callers needing independent
// sequences should construct one Exponential each.
type Exponential struct {
	min, max, jitter time.Duration
	attempt          uint
	rnd              *rand.Rand
}

// NewExponential returns an Exponential starting at min, doubling on each
// call to NextDuration, capped at max. If min > max, every call returns
// max. A non-zero jitter adds a random value in [0, jitter) to each
// returned duration.
func NewExponential(min, max, jitter time.Duration) *Exponential {
	return &Exponential{
		min:    min,
		max:    max,
		jitter: jitter,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NextDuration returns the next backoff duration and advances the sequence.
func (e *Exponential) NextDuration() time.Duration {
	if e.min > e.max {
		return e.max
	}
	d := e.min << e.attempt
	if d <= 0 || d > e.max {
		d = e.max
	}
	e.attempt++
	if e.jitter > 0 {
		d += time.Duration(e.rnd.Int63n(int64(e.jitter)))
	}
	return d
}

// Reset restarts the sequence from min.
func (e *Exponential) Reset() {
	e.attempt = 0
}

// Retry calls fn until it succeeds, ctx is canceled, or maxAttempts is
// reached (0 means unlimited). It sleeps for NextDuration between
// attempts, respecting ctx cancellation during the sleep.
func (e *Exponential) Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.NextDuration()):
		}
	}
}
