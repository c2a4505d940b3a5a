package retry

import (
	"context"
	"fmt"
	"time"

	"trailguard/internal/exiterr"
)

// Policy 描述有界指数退避：delay(n) = Base * Factor^(n-1)。
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
}

// DefaultPolicy matches the broker-side serialization we target: base 2s,
// factor 1.5, capped at 5 attempts.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Base: 2 * time.Second, Factor: 1.5}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	return p
}

// Delay 返回第 attempt 次失败后的等待时长（attempt 从 1 开始）。
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.Base)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-retryable class, or attempts are
// exhausted. Classification goes through exiterr.Classify: Duplicate errors are
// returned as-is (the caller treats them as success), Fatal errors abort
// immediately, Retryable errors sleep and try again.
//
// fn receives the 1-based attempt number. The returned attempts count is how
// many times fn ran.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) (attempts int, err error) {
	p = p.normalized()
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		attempts = attempt
		err = fn(attempt)
		if err == nil {
			return attempts, nil
		}
		switch exiterr.Classify(err) {
		case exiterr.ClassDuplicate, exiterr.ClassFatal:
			return attempts, err
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-time.After(p.Delay(attempt)):
		case <-ctx.Done():
			return attempts, ctx.Err()
		}
	}
	return attempts, fmt.Errorf("retries exhausted after %d attempts: %w", attempts, err)
}
