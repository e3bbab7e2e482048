package runner

import "time"

type Option func(*Handler)

// WithTimeout bounds every attempt.
func WithTimeout(t time.Duration) Option {
	return func(r *Handler) {
		r.timeout = t
	}
}

func WithMaxRetries(max int) Option {
	return func(r *Handler) {
		if max >= 0 {
			r.maxRetries = max
		}
	}
}

func WithLogger(l Logger) Option {
	return func(r *Handler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRetryStrategy lets you define a custom retry/backoff approach
func WithRetryStrategy(s RetryStrategy) Option {
	return func(r *Handler) {
		if s != nil {
			r.retryStrategy = s
		}
	}
}

// WithRetryIf restricts retries to errors accepted by fn.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Handler) {
		if fn != nil {
			r.retryIf = fn
		}
	}
}
