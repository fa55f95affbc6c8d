package cad

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/go-cadmark/internal/ports"
)

// MetricsMiddleware records the latency and outcome of every call as
// cad_call_duration_seconds and cad_calls_total, labelled by op and status.
// Status is one of success, timeout, circuit_open or error. A nil collector
// leaves the call untouched.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next Call) Call {
		if collector == nil {
			return next
		}
		return func(ctx context.Context, req Request) error {
			start := time.Now()
			err := next(ctx, req)

			labels := map[string]string{"op": req.Op, "status": outcome(err)}
			collector.RecordHistogram("cad_call_duration_seconds", time.Since(start).Seconds(), labels)
			collector.RecordCounter("cad_calls_total", 1, labels)
			return err
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ports.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
