// Package retry runs calls to external model providers with per-attempt timeouts and
// exponential backoff with jitter.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/tripdesk/groundwork/internal/errors"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 8 * time.Second
	backoffMultiplier     = 2
	serverErrorRetries    = 1
)

// Class is how a failed attempt is treated.
type Class int

const (
	// Permanent failures are not retried.
	Permanent Class = iota
	// Throttled covers 429 responses and per-attempt timeouts; retried until the attempt budget is spent.
	Throttled
	// ServerFault covers 5xx responses; retried once.
	ServerFault
)

func (c Class) String() string {
	switch c {
	case Throttled:
		return "throttled"
	case ServerFault:
		return "server_error"
	default:
		return "permanent"
	}
}

// Classify maps an attempt error to a Class.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Throttled
	}

	if pe, ok := apperrors.AsProviderError(err); ok {
		switch {
		case pe.RateLimited():
			return Throttled
		case pe.ServerError():
			return ServerFault
		}
	}

	return Permanent
}

// Policy configures Do. The zero value makes a single attempt without timeout.
type Policy struct {
	MaxAttempts    int           // Total attempts for throttled failures (including the first).
	CallTimeout    time.Duration // Per-attempt timeout; 0 disables it.
	InitialBackoff time.Duration // Backoff after the first failure; doubles each attempt, capped by MaxBackoff.
	MaxBackoff     time.Duration

	// OnRetry is called before each backoff sleep. Optional.
	OnRetry func(attempt int, class Class, wait time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}

	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}

	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}

	if p.sleep == nil {
		p.sleep = sleep
	}

	return p
}

// Do calls fn until it succeeds, fails permanently, or the budget for its failure class is spent.
// It returns the last error. Cancellation of ctx stops retrying immediately.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	p := policy.normalized()
	backoff := p.InitialBackoff
	serverRetries := 0

	for attempt := 1; ; attempt++ {
		val, err := call(ctx, p.CallTimeout, fn)
		if err == nil {
			return val, nil
		}

		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		}

		class := Classify(err)

		switch class {
		case Permanent:
			return zero, err
		case ServerFault:
			if serverRetries >= serverErrorRetries {
				return zero, err
			}

			serverRetries++
		case Throttled:
			if attempt >= p.MaxAttempts {
				return zero, err
			}
		}

		wait := jitter(backoff)
		if p.OnRetry != nil {
			p.OnRetry(attempt, class, wait, err)
		}

		if err := p.sleep(ctx, wait); err != nil {
			return zero, err
		}

		backoff = min(backoff*backoffMultiplier, p.MaxBackoff)
	}
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	val, err := fn(callCtx)
	if err != nil && callCtx.Err() != nil && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
		// Some SDKs wrap the deadline in their own error type.
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}

	return val, err
}

// jitter returns a duration between 50% and 100% of duration to avoid thundering herd.
func jitter(duration time.Duration) time.Duration {
	const jitterHalf = 2

	half := duration / jitterHalf
	if half <= 0 {
		return duration
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return half
	}

	randVal := binary.BigEndian.Uint64(buf[:])

	//nolint:gosec // G115: modulo result is in [0, half), safe to convert to int64
	jitterNanos := int64(randVal % uint64(half.Nanoseconds()))

	return half + time.Duration(jitterNanos)
}

// sleep blocks for the given duration or until ctx is cancelled; returns ctx.Err() if cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
