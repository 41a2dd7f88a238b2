// Package retry wraps flaky remote calls in a bounded, fixed-delay retry.
//
// A Policy allows MaxAttempts total invocations with exactly Delay between
// them: no jitter, no backoff. When every attempt fails the error of the
// final attempt is returned as is, so callers can still match it with
// errors.Is / errors.As.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/gtmray/contents-bot/config"
)

// Policy is one (max attempts, delay) pair.
type Policy struct {
	Name        string
	MaxAttempts int
	Delay       time.Duration
}

// FromConfig builds a named policy from its YAML section.
func FromConfig(name string, c config.RetryConfig) Policy {
	return Policy{Name: name, MaxAttempts: c.MaxAttempts, Delay: c.Delay}
}

// Validate rejects policies that would never call the operation.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry %s: max attempts must be >= 1, got %d", p.Name, p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("retry %s: delay must not be negative", p.Name)
	}
	return nil
}

// Do runs fn under the policy and returns its first successful value.
func Do[T any](ctx context.Context, p Policy, logger zerolog.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := p.Validate(); err != nil {
		var zero T
		return zero, err
	}

	attempt := 0
	value, err := retry.DoWithData(
		func() (T, error) {
			attempt++
			logger.Debug().Str("op", p.Name).Int("attempt", attempt).Msg("attempt")
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.MaxAttempts)),
		retry.Delay(p.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			ev := logger.Warn().Err(err).Str("op", p.Name).Uint("attempt", n+1).Int("max_attempts", p.MaxAttempts)
			if int(n)+1 < p.MaxAttempts {
				ev.Dur("retry_in", p.Delay).Msg("attempt failed, retrying")
				return
			}
			ev.Msg("attempt failed")
		}),
	)
	if err != nil && attempt == p.MaxAttempts {
		logger.Error().Err(err).Str("op", p.Name).Msgf("all %d attempts failed", p.MaxAttempts)
	}
	return value, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, logger zerolog.Logger, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
