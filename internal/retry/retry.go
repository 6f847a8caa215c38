// Package retry runs an operation a bounded number of times with a delay
// between attempts.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that a Policy will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Backoff selects how the delay evolves between attempts.
type Backoff int

const (
	// Exponential doubles the delay after each attempt, with +-25% jitter.
	Exponential Backoff = iota
	// Fixed waits the same delay between every attempt.
	Fixed
)

// Policy describes how an operation is retried.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Backoff  Backoff
}

// Run calls fn until it succeeds, returns a *PermanentError, the attempts
// are used up, or ctx is done. fn receives the 1-based attempt number.
// The last error from fn is returned.
func (p Policy) Run(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	delay := p.Delay

	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		if attempt == attempts {
			break
		}

		sleep := delay
		if p.Backoff == Exponential {
			jitter := delay / 4
			sleep = delay - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))
			delay *= 2
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}

	return err
}
