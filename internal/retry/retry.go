// Package retry runs operations with bounded exponential backoff. Errors
// wrapped with Permanent stop the loop immediately; everything else retries
// until the attempt budget or the context runs out.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy bounds one retry loop.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Initial is the delay after the first failure.
	Initial time.Duration
	// Max caps the delay between tries.
	Max time.Duration
	// Factor multiplies the delay after each failure.
	Factor float64
	// Jitter randomizes each delay into [0.5x, 1.5x].
	Jitter bool
}

// Exponential is the usual policy: doubling delays with jitter.
func Exponential(attempts int, initial, max time.Duration) Policy {
	return Policy{Attempts: attempts, Initial: initial, Max: max, Factor: 2, Jitter: true}
}

// Fixed retries on a constant delay with no jitter.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Initial: delay, Max: delay, Factor: 1}
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Initial <= 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 10 * time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2
	}
	return p
}

// Do runs op until it succeeds, returns a permanent error, exhausts the
// attempt budget, or the context is done. It reports how many attempts ran
// alongside the final error.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) (int, error) {
	p = p.normalized()

	delay := p.Initial
	attempts := 0
	var err error

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return attempts, cerr
		}
		attempts = attempt

		err = op(ctx)
		if err == nil {
			return attempts, nil
		}
		if IsPermanent(err) || attempt >= p.Attempts {
			return attempts, err
		}

		sleep := delay
		if p.Jitter {
			sleep = time.Duration(float64(delay) * (0.5 + rand.Float64())) // #nosec G404 -- jitter needs no crypto randomness
		}
		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * p.Factor)
		if delay > p.Max {
			delay = p.Max
		}
	}
	return attempts, err
}

// PermanentError marks an error as not worth retrying.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops retrying on it. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the Permanent marker.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
