package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
	jaegerconfig "github.com/uber/jaeger-client-go/config"
)

// LogError adds a span log for an error.
// Returns unchanged error, so useful to wrap as in:
//
// return tracing.LogError(span, err)
func LogError(span opentracing.Span, err error) error {
	if err == nil {
		return nil
	}
	span.SetTag("error", true)
	span.LogFields(log.Error(err))
	return err
}

// StartSpanFromContext is an easier-to-use opentracing.StartSpanFromContextWithTracer.
// Uses the calling function as the operation name, and logs the file:line.
func StartSpanFromContext(ctx context.Context, tracer opentracing.Tracer) (opentracing.Span, context.Context) {
	if ctx == nil {
		panic("StartSpanFromContext called with nil context")
	}

	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, tracer, "unknown")
		span.LogFields(log.Error(errors.New("failed to get calling frame")))
		return span, ctx
	}

	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()

	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, tracer, frame.Function)
	span.LogFields(log.String("location", fmt.Sprintf("%s:%d", frame.File, frame.Line)))

	return span, ctx
}

// NewJaegerTracer builds a Jaeger tracer for service from the standard
// JAEGER_* environment variables.
func NewJaegerTracer(service string) (opentracing.Tracer, io.Closer, error) {
	cfg, err := jaegerconfig.FromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("reading jaeger configuration: %w", err)
	}
	cfg.ServiceName = service

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, nil, fmt.Errorf("creating jaeger tracer: %w", err)
	}
	return tracer, closer, nil
}
