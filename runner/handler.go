// Package runner retries store operations that fail transiently.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-errors"
)

type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type Handler struct {
	logger        Logger
	retryStrategy RetryStrategy
	retryIf       func(error) bool
	maxRetries    int
	timeout       time.Duration
}

// NewHandler constructs a Handler from options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		retryStrategy: NoDelayStrategy{},
		retryIf:       func(error) bool { return true },
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h
}

// Run calls fn until it succeeds, the retry budget is spent, the error is
// not retryable or ctx is done. The last error is returned.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	if h == nil {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		err = h.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if attempt == h.maxRetries || !h.retryIf(err) {
			break
		}

		delay := h.retryStrategy.SleepDuration(attempt, err)
		h.debug("attempt %d of %d failed, retrying in %s: %v", attempt+1, h.maxRetries+1, delay, err)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.CategoryExternal, fmt.Sprintf("retry aborted after %d attempts", attempt+1))
		case <-timer.C:
		}
	}

	if h.maxRetries > 0 && h.retryIf(err) && h.logger != nil {
		h.logger.Warn("operation failed after %d attempts: %v", h.maxRetries+1, err)
	}
	return err
}

func (h *Handler) attempt(ctx context.Context, fn func(context.Context) error) error {
	if h.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return fn(ctx)
}

func (h *Handler) debug(format string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(format, args...)
	}
}
