// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package backoff provides the retry-with-backoff helper used by
// service/attemptid (backoff.NewThrottleRetry, backoff.WithRetryPolicy,
// backoff.WithRetryableError, (*ThrottleRetry).Do).
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy describes how ThrottleRetry paces retries.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int
}

// NewExponentialRetryPolicy returns a RetryPolicy with the given initial
// interval, doubling backoff, and no cap on attempts.
func NewExponentialRetryPolicy(initialInterval time.Duration) *RetryPolicy {
	return &RetryPolicy{
		InitialInterval:    initialInterval,
		BackoffCoefficient: 2.0,
		MaximumInterval:    10 * time.Second,
		MaximumAttempts:    0,
	}
}

func (p *RetryPolicy) intervalFor(attempt int) time.Duration {
	interval := float64(p.InitialInterval)
	for i := 0; i < attempt; i++ {
		interval *= p.BackoffCoefficient
	}
	d := time.Duration(interval)
	if p.MaximumInterval > 0 && d > p.MaximumInterval {
		d = p.MaximumInterval
	}
	return d
}

// IsRetryableFunc reports whether an error returned by the retried
// operation should be retried.
type IsRetryableFunc func(error) bool

// ThrottleRetry runs an operation, retrying on retryable errors with
// exponential backoff and jitter until it succeeds, a non-retryable
// error is returned, the retry policy's attempt budget is exhausted, or
// the context is cancelled.
type ThrottleRetry struct {
	policy    *RetryPolicy
	retryable IsRetryableFunc
}

// Option configures a ThrottleRetry.
type Option func(*ThrottleRetry)

// WithRetryPolicy sets the pacing policy.
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(r *ThrottleRetry) { r.policy = policy }
}

// WithRetryableError sets the predicate deciding whether an error should
// be retried. Errors for which it returns false are returned immediately.
func WithRetryableError(fn IsRetryableFunc) Option {
	return func(r *ThrottleRetry) { r.retryable = fn }
}

// NewThrottleRetry builds a ThrottleRetry from the given options.
func NewThrottleRetry(opts ...Option) *ThrottleRetry {
	r := &ThrottleRetry{
		policy:    NewExponentialRetryPolicy(50 * time.Millisecond),
		retryable: func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs op, retrying per the configured policy.
func (r *ThrottleRetry) Do(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !r.retryable(err) {
			return err
		}
		if r.policy.MaximumAttempts > 0 && attempt+1 >= r.policy.MaximumAttempts {
			return err
		}
		interval := r.policy.intervalFor(attempt)
		jitter := time.Duration(rand.Int63n(int64(interval)/2 + 1))
		select {
		case <-time.After(interval + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
