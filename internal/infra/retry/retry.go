package retry

// Bounded retry around upstream calls
// Ordinary failures consume attempts and wait per Policy (fixed or exponential, optional full jitter)
// HTTP 429 waits RateLimitCooldown (or a longer Retry-After) and never consumes an attempt
// Waiting goes through a Sleeper so tests can record delays instead of sleeping

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyExponential Strategy = "exponential"
)

type Policy struct {
	MaxAttempts       int
	Strategy          Strategy
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Multiplier        float64
	Jitter            bool
	RateLimitCooldown time.Duration

	Sleeper Sleeper
	// OnRetry is called before every wait. attempt is the number of attempts consumed so far.
	OnRetry func(attempt int, wait time.Duration, err error)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		Strategy:          StrategyFixed,
		BaseDelay:         5 * time.Second,
		MaxDelay:          60 * time.Second,
		Multiplier:        2.0,
		RateLimitCooldown: 60 * time.Second,
	}
}

type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper waits on a real timer and returns early with ctx.Err().
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type HTTPError struct {
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error: <nil>"
	}
	if len(e.Body) == 0 {
		return fmt.Sprintf("http error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("http error (%d): %s", e.StatusCode, string(e.Body))
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsRateLimited(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusTooManyRequests
}

func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	layouts := []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			d := time.Until(t)
			if d < 0 {
				return 0
			}
			return d
		}
	}
	return 0
}

func clamp(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

// Backoff returns the wait after the given number of consumed attempts (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}

	d := p.BaseDelay
	if p.Strategy == StrategyExponential {
		mult := p.Multiplier
		if mult <= 1 {
			mult = 2.0
		}
		f := float64(p.BaseDelay)
		for i := 1; i < attempt; i++ {
			f *= mult
			if p.MaxDelay > 0 && f > float64(p.MaxDelay) {
				break
			}
		}
		d = time.Duration(f)
	}
	d = clamp(d, p.MaxDelay)

	if p.Jitter && d > 0 {
		d = time.Duration(rand.Int63n(int64(d) + 1))
	}
	return d
}

func (p Policy) cooldown(err error) time.Duration {
	wait := p.RateLimitCooldown
	var he *HTTPError
	if errors.As(err, &he) && he.RetryAfter > wait {
		wait = he.RetryAfter
	}
	return wait
}

// Do runs fn until it succeeds, returns a Permanent error, runs out of attempts,
// or ctx is done. Rate-limited calls repeat without limit while ctx allows.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var wait time.Duration
		if IsRateLimited(err) {
			wait = p.cooldown(err)
		} else {
			attempts++
			if attempts >= p.MaxAttempts {
				return &ExhaustedError{Attempts: attempts, Err: err}
			}
			wait = p.Backoff(attempts)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempts, wait, err)
		}
		if err := sleeper.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}
