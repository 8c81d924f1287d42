package testing

import (
	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
)

// NewInMemoryTracer returns a Jaeger tracer that samples every span and keeps
// finished spans in the returned reporter. The returned function closes the
// tracer and should be deferred by the caller.
func NewInMemoryTracer(name string) (opentracing.Tracer, *jaeger.InMemoryReporter, func()) {
	reporter := jaeger.NewInMemoryReporter()
	tracer, closer := jaeger.NewTracer(name,
		jaeger.NewConstSampler(true),
		reporter,
	)

	return tracer, reporter, func() {
		_ = closer.Close()
	}
}
