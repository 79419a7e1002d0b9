package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retries of transient driver errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns the retry policy used for network drivers.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryDriver retries the calls of another driver on transient errors.
// Every Driver operation is idempotent, so a call that failed after it was
// applied can be repeated.
type RetryDriver struct {
	inner  Driver
	config *RetryConfig
}

// WithRetry wraps inner. A nil config uses DefaultRetryConfig.
func WithRetry(inner Driver, cfg *RetryConfig) *RetryDriver {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryDriver{inner: inner, config: cfg}
}

// isTransient reports whether err is worth retrying.
func isTransient(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDocumentTooLarge),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// backoff computes the delay for the given attempt with jitter.
func (rd *RetryDriver) backoff(attempt int) time.Duration {
	base := float64(rd.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rd.config.MaxBackoff) {
		base = float64(rd.config.MaxBackoff)
	}
	jitter := base * rd.config.JitterFraction * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rd *RetryDriver) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rd.config.MaxRetries; attempt++ {
		lastErr = fn()
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < rd.config.MaxRetries {
			if err := sleep(ctx, rd.backoff(attempt)); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rd.config.MaxRetries)
}

// Get implements Driver.
func (rd *RetryDriver) Get(ctx context.Context, bucket, key string) (v []byte, err error) {
	err = rd.retry(ctx, "get", func() error {
		v, err = rd.inner.Get(ctx, bucket, key)
		return err
	})
	return
}

// Put implements Driver.
func (rd *RetryDriver) Put(ctx context.Context, bucket, key string, value []byte) error {
	return rd.retry(ctx, "put", func() error {
		return rd.inner.Put(ctx, bucket, key, value)
	})
}

// PutIfAbsent implements Driver. A retried call that was applied the first
// time reports created as false.
func (rd *RetryDriver) PutIfAbsent(ctx context.Context, bucket, key string, value []byte) (stored []byte, created bool, err error) {
	err = rd.retry(ctx, "put if absent", func() error {
		stored, created, err = rd.inner.PutIfAbsent(ctx, bucket, key, value)
		return err
	})
	return
}

// Scan implements Driver. Only listing is retried; errors returned by fn
// are passed through.
func (rd *RetryDriver) Scan(ctx context.Context, bucket, prefix string, fn func(string, []byte) error) error {
	var pairs []pair
	err := rd.retry(ctx, "scan", func() error {
		pairs = pairs[:0]
		return rd.inner.Scan(ctx, bucket, prefix, func(k string, v []byte) error {
			pairs = append(pairs, pair{k, v})
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

// DeletePrefix implements Driver.
func (rd *RetryDriver) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	return rd.retry(ctx, "delete prefix", func() error {
		return rd.inner.DeletePrefix(ctx, bucket, prefix)
	})
}

// Sync implements Driver.
func (rd *RetryDriver) Sync(ctx context.Context) error {
	return rd.retry(ctx, "sync", func() error {
		return rd.inner.Sync(ctx)
	})
}

// Close closes the wrapped driver.
func (rd *RetryDriver) Close() error {
	return rd.inner.Close()
}
