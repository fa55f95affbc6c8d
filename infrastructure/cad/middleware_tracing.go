package cad

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware starts a span named cad.<op> per call, tagged with the
// operation and path. Failed calls record the error and set an error status
// carrying the same outcome label as MetricsMiddleware. A nil tracer uses
// the global provider.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer("cad")
	}
	return func(next Call) Call {
		return func(ctx context.Context, req Request) error {
			ctx, span := tracer.Start(ctx, "cad."+req.Op,
				trace.WithAttributes(
					attribute.String("cad.op", req.Op),
					attribute.String("cad.path", req.Path),
				),
			)
			defer span.End()

			err := next(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, outcome(err))
				return err
			}
			span.SetStatus(codes.Ok, "")
			return nil
		}
	}
}
