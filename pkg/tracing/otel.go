// Package tracing adapts an OpenTelemetry tracer to the workflow engine's
// minimal Tracer/Span surface.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/azure-samples/workflowcore/internal/workflow"
)

// Adapter implements workflow.Tracer over an OpenTelemetry trace.Tracer
// looked up from the global provider by instrumentationName.
type Adapter struct {
	tracer oteltrace.Tracer
}

// NewAdapter builds an Adapter using otel.Tracer(instrumentationName); wire
// a real TracerProvider via otel.SetTracerProvider before constructing it,
// or accept the no-op default provider.
func NewAdapter(instrumentationName string) workflow.Tracer {
	return &Adapter{tracer: otel.Tracer(instrumentationName)}
}

// StartSpan implements workflow.Tracer.
func (a *Adapter) StartSpan(ctx context.Context, name string) (context.Context, workflow.Span) {
	ctx, span := a.tracer.Start(ctx, name)
	return ctx, &spanAdapter{span: span}
}

type spanAdapter struct {
	span oteltrace.Span
}

// SetAttribute implements workflow.Span, converting value to the closest
// otel attribute type and falling back to a string representation.
func (s *spanAdapter) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

// RecordError implements workflow.Span.
func (s *spanAdapter) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

// End implements workflow.Span.
func (s *spanAdapter) End() {
	s.span.End()
}
