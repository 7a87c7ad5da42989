package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ormbridge/ormbridge-go/internal/cache"
	"github.com/ormbridge/ormbridge-go/internal/models"
)

// RemoteError carries an HTTP status from the backend so the retry decorator
// can tell transient failures from permanent ones.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Status, e.Message)
}

// RetryOptions configures the fetch retry decorator.
type RetryOptions struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryOptions returns sensible retry defaults.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// isTransient reports whether an error is worth retrying. Server errors and
// throttling are; cancellation and client errors are not.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

func (o RetryOptions) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.InitialInterval
	eb.MaxInterval = o.MaxInterval
	return backoff.WithContext(backoff.WithMaxRetries(eb, o.MaxRetries), ctx)
}

func retryFetch[T any](ctx context.Context, opts RetryOptions, fn func() (T, error)) (T, error) {
	var out T
	err := backoff.Retry(func() error {
		v, err := fn()
		if err != nil {
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, opts.backOff(ctx))
	return out, err
}

// WithRetry wraps both fetch callbacks with exponential backoff on transient
// errors. Permanent errors and context cancellation surface immediately.
func WithRetry(cb Callbacks, opts RetryOptions) Callbacks {
	wrapped := cb
	if cb.Models != nil {
		inner := cb.Models
		wrapped.Models = func(ctx context.Context, req cache.FetchModelsRequest) ([]models.Entity, error) {
			return retryFetch(ctx, opts, func() ([]models.Entity, error) {
				return inner(ctx, req)
			})
		}
	}
	if cb.Queryset != nil {
		inner := cb.Queryset
		wrapped.Queryset = func(ctx context.Context, req cache.FetchQuerysetRequest) ([]models.Entity, error) {
			return retryFetch(ctx, opts, func() ([]models.Entity, error) {
				return inner(ctx, req)
			})
		}
	}
	return wrapped
}
