package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CounterPort increments and returns the counter value for a (prefix, scope) pair.
// The increment must be atomic at the storage level.
type CounterPort interface {
	Increment(ctx context.Context, prefix, scope string) (int64, error)
}

// Generator allocates human-readable, scope-unique document numbers by reading
// a dedicated counter row per (kind, scope). The counter is incremented with a
// single storage-native atomic update, so allocation is serializable per scope
// and the value never repeats within it.
type Generator struct {
	counters CounterPort
	attempts int
	backoff  time.Duration
	now      func() time.Time
	sleep    func(time.Duration)
}

// NewGenerator constructs a Generator.
func NewGenerator(counters CounterPort) *Generator {
	return &Generator{
		counters: counters,
		attempts: 3,
		backoff:  25 * time.Millisecond,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Next allocates the next number for kind, e.g. IND-2026-0042 or PR-007.
// Only transient serialization failures are retried; exhausting the budget
// surfaces ErrExhaustedRetries.
func (g *Generator) Next(ctx context.Context, kind Kind) (string, error) {
	year := g.now().UTC().Year()
	scope := kind.Scope(year)

	var lastErr error
	for attempt := 0; attempt < g.attempts; attempt++ {
		if attempt > 0 {
			g.sleep(g.backoff * time.Duration(attempt))
		}
		value, err := g.counters.Increment(ctx, kind.Prefix, scope)
		if err != nil {
			if retryable(err) {
				lastErr = err
				continue
			}
			return "", fmt.Errorf("sequence: allocate %s: %w", kind.Prefix, err)
		}
		return kind.Format(year, value), nil
	}
	return "", fmt.Errorf("%w: %s/%s: %v", ErrExhaustedRetries, kind.Prefix, scope, lastErr)
}

// RetryableError marks counter errors that are safe to retry.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }

func (e RetryableError) Unwrap() error { return e.Err }

func retryable(err error) bool {
	var re RetryableError
	return errors.As(err, &re)
}
