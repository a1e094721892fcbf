// Package util holds small context helpers shared across packages.
package util

import (
	"context"
	"time"
)

// WithTimeout runs fn with a context bounded by dur. A nil ctx is
// treated as context.Background.
func WithTimeout(ctx context.Context, dur time.Duration, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, dur)
	defer cancelTimeout()

	return fn(timeoutCtx)
}
