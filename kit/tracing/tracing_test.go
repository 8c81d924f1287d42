package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
)

func newTestTracer(t *testing.T) (opentracing.Tracer, *jaeger.InMemoryReporter) {
	t.Helper()

	// Use Jaeger tracer simply to avoid using a noop tracer implementation.
	reporter := jaeger.NewInMemoryReporter()
	tracer, closer := jaeger.NewTracer("service name", jaeger.NewConstSampler(true), reporter)
	t.Cleanup(func() { closer.Close() })
	return tracer, reporter
}

func TestStartSpanFromContext(t *testing.T) {
	tracer, _ := newTestTracer(t)

	type testCase struct {
		ctx          context.Context
		expectPanic  bool
		expectParent bool
	}
	var testCases []testCase

	testCases = append(testCases,
		testCase{
			ctx:          nil,
			expectPanic:  true,
			expectParent: false,
		},
		testCase{
			ctx:          context.Background(),
			expectPanic:  false,
			expectParent: false,
		})

	parentSpan := tracer.StartSpan("parent operation name")
	testCases = append(testCases, testCase{
		ctx:          opentracing.ContextWithSpan(context.Background(), parentSpan),
		expectPanic:  false,
		expectParent: true,
	})

	for i, tc := range testCases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			var span opentracing.Span
			var ctx context.Context
			var gotPanic bool

			func(inputCtx context.Context) {
				defer func() {
					if recover() != nil {
						gotPanic = true
					}
				}()
				span, ctx = StartSpanFromContext(inputCtx, tracer)
			}(tc.ctx)

			if tc.expectPanic != gotPanic {
				t.Errorf("panic: expect %v got %v", tc.expectPanic, gotPanic)
			}
			if tc.expectPanic {
				// No other valid checks if panic.
				return
			}
			if ctx == nil {
				t.Error("never expect non-nil ctx")
			}
			if span == nil {
				t.Error("never expect non-nil Span")
			}
			foundParent := span.Context().(jaeger.SpanContext).ParentID() != 0
			if tc.expectParent != foundParent {
				t.Errorf("parent: expect %v got %v", tc.expectParent, foundParent)
			}
			if ctx == tc.ctx {
				t.Errorf("always expect fresh context")
			}
		})
	}
}

func TestLogError(t *testing.T) {
	tracer, reporter := newTestTracer(t)

	span := tracer.StartSpan("operation name")
	if err := LogError(span, nil); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	want := errors.New("boom")
	if got := LogError(span, want); got != want {
		t.Fatalf("expected error to be returned unchanged, got %v", got)
	}
	span.Finish()

	spans := reporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	js := spans[0].(*jaeger.Span)
	if js.Tags()["error"] != true {
		t.Errorf("expected error tag, got tags %v", js.Tags())
	}
	if len(js.Logs()) != 1 {
		t.Errorf("expected 1 log record, got %d", len(js.Logs()))
	}
}

func BenchmarkLocal_StartSpanFromContext(b *testing.B) {
	b.ReportAllocs()

	tracer := opentracing.NoopTracer{}
	parentSpan := tracer.StartSpan("parent operation name")
	ctx := opentracing.ContextWithSpan(context.Background(), parentSpan)

	for n := 0; n < b.N; n++ {
		StartSpanFromContext(ctx, tracer)
	}
}
