package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Stage is a function that transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

var stageTracer = otel.Tracer("pkg/fn")

// Then composes two stages, short-circuiting on the first error. Each stage
// runs under its own child span.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		sctx, span := stageTracer.Start(ctx, "stage.first")
		r := first(sctx, a)
		span.End()
		v, err := r.Unwrap()
		if err != nil {
			return Err[C](err)
		}
		sctx, span = stageTracer.Start(ctx, "stage.second")
		defer span.End()
		return second(sctx, v)
	}
}

// MapStage lifts a pure function into a Stage that cannot fail.
func MapStage[In, Out any](f func(In) Out) Stage[In, Out] {
	return func(_ context.Context, in In) Result[Out] {
		return Ok(f(in))
	}
}

// TracedStage runs stage inside a named span and records any error on it.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := stageTracer.Start(ctx, name)
		defer span.End()
		r := stage(ctx, in)
		if _, err := r.Unwrap(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return r
	}
}
