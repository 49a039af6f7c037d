package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/fitreg/internal/metrics"
)

var tracer = otel.GetTracerProvider().Tracer("fitreg/engine")

// instrumented records a span and Prometheus metrics for every Chat call of
// the wrapped Engine.
type instrumented struct {
	Engine
}

// Instrument wraps e so chat calls are traced and measured.
func Instrument(e Engine) Engine {
	return &instrumented{Engine: e}
}

func (i *instrumented) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.chat", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.backend", i.Name()),
		attribute.String("llm.model", model),
		attribute.Int("llm.request.messages", len(messages)),
		attribute.Bool("llm.request.structured", jsonSchema != nil),
	)

	start := time.Now()
	out, err := i.Engine.Chat(ctx, model, messages, jsonSchema)
	metrics.LLMRequestDuration.WithLabelValues(i.Name(), model).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(i.Name(), model, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	metrics.LLMRequestsTotal.WithLabelValues(i.Name(), model, "ok").Inc()
	span.SetAttributes(attribute.Int("llm.response.content_length", len(out)))
	return out, nil
}
