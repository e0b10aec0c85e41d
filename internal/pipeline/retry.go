package pipeline

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
)

// Policy is a data-driven retry schedule. Errors whose kind is not
// retryable short-circuit regardless of remaining attempts.
type Policy struct {
	Name           string
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

// Policies bundles the three schedules the pipeline uses. Tests inject
// microsecond variants so retry paths run fast.
type Policies struct {
	// Fast covers storage puts and JSON artifact saves.
	Fast Policy
	// Model covers remote model builds and depth renders.
	Model Policy
	// AI covers image synthesis calls.
	AI Policy
}

func DefaultPolicies() Policies {
	return Policies{
		Fast: Policy{
			Name:           "fast",
			MaxAttempts:    3,
			InitialBackoff: 1 * time.Second,
			Multiplier:     2.0,
			MaxBackoff:     30 * time.Second,
		},
		Model: Policy{
			Name:           "model",
			MaxAttempts:    3,
			InitialBackoff: 5 * time.Second,
			Multiplier:     2.0,
			MaxBackoff:     2 * time.Minute,
		},
		AI: Policy{
			Name:           "ai",
			MaxAttempts:    5,
			InitialBackoff: 10 * time.Second,
			Multiplier:     2.0,
			MaxBackoff:     5 * time.Minute,
		},
	}
}

// TestPolicies keeps the attempt counts but collapses the delays, for
// exercising retry paths in unit tests.
func TestPolicies() Policies {
	p := DefaultPolicies()
	for _, pp := range []*Policy{&p.Fast, &p.Model, &p.AI} {
		pp.InitialBackoff = time.Microsecond
		pp.MaxBackoff = 10 * time.Microsecond
	}
	return p
}

// Do runs fn under the policy. Rate-limited errors back off with an extra
// 30% random jitter; non-retryable kinds and cancellation return
// immediately. The last error is returned after exhaustion.
func Do(ctx context.Context, log *logger.Logger, p Policy, op string, fn func(ctx context.Context) error) error {
	if log == nil {
		log = logger.NewNop()
	}
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errkind.Wrap(errkind.Cancelled, op, err)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		kind := errkind.KindOf(lastErr)
		if !errkind.Retryable(lastErr) {
			return lastErr
		}
		if attempt >= p.MaxAttempts {
			log.Warn("retry exhausted", "policy", p.Name, "op", op, "attempts", attempt, "error", lastErr)
			return lastErr
		}

		delay := backoffDelay(p, attempt)
		if kind == errkind.RateLimited {
			delay += time.Duration(rand.Float64() * 0.3 * float64(delay))
		}
		log.Debug("retrying after backoff",
			"policy", p.Name, "op", op, "attempt", attempt, "delay", delay, "kind", kind.String(), "error", lastErr)

		select {
		case <-ctx.Done():
			return errkind.Wrap(errkind.Cancelled, op, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func backoffDelay(p Policy, attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	mult := p.Multiplier
	if mult <= 1 {
		mult = 2.0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(initial) * math.Pow(mult, float64(attempt-1)))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}
