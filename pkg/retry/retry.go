// Package retry provides bounded retry and bounded polling with per-attempt
// timeouts on top of siderolabs/go-retry
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/smithy-go"
	goretry "github.com/siderolabs/go-retry/retry"
)

// ErrPollExhausted is returned by Poll when the attempt budget runs out before the condition is met
var ErrPollExhausted = errors.New("poll attempts exhausted")

// errNotDone marks a poll attempt whose condition is not met yet
var errNotDone = errors.New("condition not met")

// attemptSlack bounds the overall retry window on top of the delays and attempt timeouts
const attemptSlack = time.Minute

// Predicate determines whether an error should be retried
type Predicate func(error) bool

// Config controls retry behavior
type Config struct {
	MaxAttempts    int
	Delay          time.Duration // wait between attempts, 0 retries immediately
	Jitter         time.Duration // random extra wait added to Delay
	AttemptTimeout time.Duration // 0 means no per-attempt timeout
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		Delay:          500 * time.Millisecond,
		Jitter:         250 * time.Millisecond,
		AttemptTimeout: 10 * time.Second,
	}
}

// window is the overall deadline handed to go-retry. The attempt counter
// stops the loop; the window only has to outlast it
func window(attempts int, delay, jitter, attemptTimeout time.Duration) time.Duration {
	return time.Duration(attempts) * (delay + jitter + attemptTimeout + attemptSlack)
}

func retryer(total, delay, jitter, attemptTimeout time.Duration) goretry.Retryer {
	opts := []goretry.Option{goretry.WithUnits(delay)}
	if jitter > 0 {
		opts = append(opts, goretry.WithJitter(jitter))
	}
	if attemptTimeout > 0 {
		opts = append(opts, goretry.WithAttemptTimeout(attemptTimeout))
	}
	return goretry.Constant(total, opts...)
}

// Do executes fn until it succeeds, returns an error shouldRetry rejects, or
// MaxAttempts calls have been made. The last error from fn is returned as is
func Do(ctx context.Context, config Config, shouldRetry Predicate, fn func(ctx context.Context) error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		last     error
		attempts int
		final    bool
	)
	total := window(config.MaxAttempts, config.Delay, config.Jitter, config.AttemptTimeout)
	err := retryer(total, config.Delay, config.Jitter, config.AttemptTimeout).
		RetryWithContext(ctx, func(actx context.Context) error {
			attempts++
			last = fn(actx)
			if last == nil {
				return nil
			}
			if attempts >= config.MaxAttempts || !shouldRetry(last) {
				final = true
				return last
			}
			return goretry.ExpectedError(last)
		})
	if err == nil {
		return nil
	}
	if !final && ctx.Err() != nil {
		return ctx.Err()
	}
	if last != nil {
		return last
	}
	return err
}

// Poll calls fn every delay until it reports done, returns an error, or
// maxAttempts calls have been made. It never polls indefinitely
func Poll(ctx context.Context, maxAttempts int, delay, attemptTimeout time.Duration, fn func(ctx context.Context) (bool, error)) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		attempts int
		failure  error
	)
	total := window(maxAttempts, delay, 0, attemptTimeout)
	err := retryer(total, delay, 0, attemptTimeout).
		RetryWithContext(ctx, func(actx context.Context) error {
			attempts++
			done, ferr := fn(actx)
			switch {
			case ferr != nil:
				failure = ferr
				return ferr
			case done:
				return nil
			case attempts >= maxAttempts:
				return ErrPollExhausted
			}
			return goretry.ExpectedError(errNotDone)
		})
	switch {
	case err == nil:
		return nil
	case failure != nil:
		return failure
	case attempts >= maxAttempts:
		return fmt.Errorf("%w after %d attempts", ErrPollExhausted, maxAttempts)
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return fmt.Errorf("%w after %d of %d attempts: %v", ErrPollExhausted, attempts, maxAttempts, err)
}

// throttleCodes are AWS API error codes that indicate a transient overload
var throttleCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestThrottledException":              true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
	"SlowDown":                               true,
	"ServiceUnavailable":                     true,
	"InternalError":                          true,
}

// IsThrottle reports whether err is an AWS throttling or transient service error
func IsThrottle(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return throttleCodes[apiErr.ErrorCode()]
	}
	return false
}

// IsRetryable determines whether an error is likely transient
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if IsThrottle(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
