// Package retry wraps fetches with bounded attempts, exponential backoff and
// identity rotation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/pkg/metrics"
	"go.uber.org/zap"
)

// FetchFunc performs one attempt against url through the given identity.
type FetchFunc func(ctx context.Context, url string, id entity.Identity) (*entity.Page, error)

// IdentitySource supplies identities and receives their health reports.
// *proxy.Rotator implements it.
type IdentitySource interface {
	Acquire() (entity.Identity, error)
	Direct() entity.Identity
	Report(id entity.Identity, outcome entity.Outcome)
}

type Options struct {
	// MaxAttempts bounds the number of fetch attempts per Execute call.
	MaxAttempts int
	// BaseDelay is the backoff before the second attempt; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff sleep.
	MaxDelay time.Duration
	// JitterFrac adds up to JitterFrac*delay on top of each backoff (0..1).
	JitterFrac float64
	// AttemptTimeout is the wall-clock cap of one attempt. Backoff is not counted.
	AttemptTimeout time.Duration
	// RotateIdentity acquires a fresh identity for every attempt. A blocked
	// attempt always rotates.
	RotateIdentity bool
	// AllowDirect falls back to a direct connection when the pool is exhausted.
	AllowDirect bool
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.JitterFrac < 0 {
		o.JitterFrac = 0
	}
	if o.JitterFrac > 1 {
		o.JitterFrac = 1
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 30 * time.Second
	}
	return o
}

// Result is the terminal value of Execute. Err is nil only when Outcome is
// entity.OutcomeSuccess.
type Result struct {
	Page     *entity.Page
	Attempts []entity.FetchAttempt
	Outcome  entity.Outcome
	Err      error
}

// OK reports whether the fetch succeeded.
func (r Result) OK() bool {
	return r.Err == nil && r.Page != nil
}

// Backoff returns the total time slept before attempts.
func (r Result) Backoff() time.Duration {
	var d time.Duration
	for _, a := range r.Attempts {
		d += a.Backoff
	}
	return d
}

type Policy struct {
	opts     Options
	rotator  IdentitySource
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	jitterFn func() float64
}

// NewPolicy creates a retry policy. rotator may be nil, in which case every
// attempt goes direct.
func NewPolicy(opts Options, rotator IdentitySource, logger *zap.Logger) *Policy {
	return &Policy{
		opts:     opts.withDefaults(),
		rotator:  rotator,
		logger:   logger.With(zap.String("component", "retry")),
		sleep:    sleepCtx,
		jitterFn: rand.Float64,
	}
}

// Options returns the effective options.
func (p *Policy) Options() Options {
	return p.opts
}

// Backoff returns the delay slept before retry number attempt (0-based):
// BaseDelay*2^attempt plus positive jitter, capped at MaxDelay. The sequence is
// non-decreasing in attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := p.opts.BaseDelay
	for i := 0; i < attempt && delay < p.opts.MaxDelay; i++ {
		delay *= 2
	}
	if p.opts.JitterFrac > 0 {
		delay += time.Duration(float64(delay) * p.opts.JitterFrac * p.jitterFn())
	}
	if delay > p.opts.MaxDelay {
		delay = p.opts.MaxDelay
	}
	return delay
}

// Execute runs fn until it succeeds, fails with a non-retryable outcome, or
// MaxAttempts is reached. It never panics on fetch failures and always
// returns a classified Result.
func (p *Policy) Execute(ctx context.Context, url string, fn FetchFunc) Result {
	var (
		res         Result
		id          entity.Identity
		hasIdentity bool
	)

	for attempt := 0; attempt < p.opts.MaxAttempts; attempt++ {
		var wait time.Duration
		if attempt > 0 {
			wait = p.Backoff(attempt - 1)
			if err := p.sleep(ctx, wait); err != nil {
				res.Outcome = entity.OutcomeError
				res.Err = fmt.Errorf("retry %s: %w", url, err)
				return res
			}
		}
		if err := ctx.Err(); err != nil {
			res.Outcome = entity.OutcomeError
			res.Err = fmt.Errorf("retry %s: %w", url, err)
			return res
		}

		if !hasIdentity || p.opts.RotateIdentity {
			next, err := p.acquire()
			if err != nil {
				p.logger.Warn("no identity available", zap.String("url", url), zap.Int("attempt", attempt))
				res.Outcome = entity.OutcomePoolExhausted
				res.Err = entity.NewFetchError(url, entity.OutcomePoolExhausted, 0, err)
				return res
			}
			id, hasIdentity = next, true
		}

		page, elapsed, err := p.attempt(ctx, url, id, fn)
		outcome := entity.OutcomeOf(err)
		if err != nil && outcome == entity.OutcomeError && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			outcome = entity.OutcomeTimeout
			err = entity.NewFetchError(url, outcome, 0, err)
		}

		res.Attempts = append(res.Attempts, entity.FetchAttempt{
			URL:      url,
			Identity: id,
			Outcome:  outcome,
			Elapsed:  elapsed,
			Index:    attempt,
			Backoff:  wait,
		})

		if ctx.Err() != nil {
			res.Outcome = entity.OutcomeError
			res.Err = fmt.Errorf("retry %s: %w", url, ctx.Err())
			return res
		}
		if p.rotator != nil {
			p.rotator.Report(id, outcome)
		}

		p.logger.Debug("fetch attempt",
			zap.String("url", url),
			zap.Stringer("identity", id),
			zap.Int("attempt", attempt),
			zap.String("outcome", string(outcome)),
			zap.Duration("elapsed", elapsed),
		)

		if err == nil {
			res.Page = page
			res.Outcome = entity.OutcomeSuccess
			res.Err = nil
			return res
		}

		res.Outcome = outcome
		res.Err = err
		if !outcome.Retryable() {
			return res
		}
		if outcome == entity.OutcomeBlocked {
			hasIdentity = false
		}
		if attempt+1 < p.opts.MaxAttempts {
			metrics.RetriesTotal.WithLabelValues(string(outcome)).Inc()
			p.logger.Warn("retrying fetch",
				zap.String("url", url),
				zap.String("outcome", string(outcome)),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", p.opts.MaxAttempts),
				zap.Error(err),
			)
		}
	}
	return res
}

func (p *Policy) attempt(ctx context.Context, url string, id entity.Identity, fn FetchFunc) (*entity.Page, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.opts.AttemptTimeout)
	defer cancel()

	start := time.Now()
	page, err := fn(attemptCtx, url, id)
	if err == nil && page == nil {
		err = entity.NewFetchError(url, entity.OutcomeMalformed, 0, errors.New("empty page"))
	}
	return page, time.Since(start), err
}

func (p *Policy) acquire() (entity.Identity, error) {
	if p.rotator == nil {
		return entity.Identity{}, nil
	}
	id, err := p.rotator.Acquire()
	if err == nil {
		return id, nil
	}
	if errors.Is(err, entity.ErrPoolExhausted) && p.opts.AllowDirect {
		return p.rotator.Direct(), nil
	}
	return entity.Identity{}, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
