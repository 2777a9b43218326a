package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func inMemoryTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	t.Run("no span", func(t *testing.T) {
		if got := CorrelationID(context.Background()); got != "" {
			t.Errorf("CorrelationID() = %q, want empty", got)
		}
	})

	t.Run("active span", func(t *testing.T) {
		tp, _ := inMemoryTracer(t)
		ctx, span := tp.Tracer("t").Start(context.Background(), "op")
		defer span.End()

		cid := CorrelationID(ctx)
		if len(cid) != 32 {
			t.Fatalf("CorrelationID() = %q, want 32 hex chars", cid)
		}
		if strings.Trim(cid, "0123456789abcdef") != "" {
			t.Errorf("CorrelationID() = %q, contains non-hex characters", cid)
		}
	})
}

func TestStartSpan(t *testing.T) {
	tp, exp := inMemoryTracer(t)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "transcribe-window")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan produced no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "transcribe-window" {
		t.Errorf("span name = %q, want transcribe-window", spans[0].Name)
	}
}

func TestLogger_WithSpan(t *testing.T) {
	tp, _ := inMemoryTracer(t)
	buf := captureLog(t)

	ctx, span := tp.Tracer("t").Start(context.Background(), "op")
	defer span.End()

	Logger(ctx).Info("window finished")

	out := buf.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing trace attributes: %s", out)
	}
}

func TestLogger_WithoutSpan(t *testing.T) {
	buf := captureLog(t)

	Logger(context.Background()).Info("window finished")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log line should carry no trace attributes: %s", buf.String())
	}
}
