package cad

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-cadmark/internal/ports"
)

// TimeoutMiddleware bounds every call to timeout. A CAD application that
// hangs on a corrupt document is killed when the deadline passes. A
// non-positive timeout disables the deadline.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Call) Call {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, req Request) error {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := next(callCtx, req)
			// Only our own deadline is a timeout; a cancelled parent is not.
			if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%s exceeded %s: %w: %w", req.Op, timeout, ports.ErrTimeout, err)
			}
			return err
		}
	}
}
