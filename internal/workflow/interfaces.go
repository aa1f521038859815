package workflow

import (
	"context"

	"github.com/azure-samples/workflowcore/pkg/richerr"
)

// ServiceResolver resolves a step instance given its stepTypeId, for
// StepNode entries built without a StepRef and for compensation lookups
// during rollback. The engine resolves a step lazily, once per StepNode
// evaluation, and reuses that instance for the node's retry attempts and for
// compensation within the same invocation; it never caches a resolution
// across invocations of the PersistentDriver.
type ServiceResolver[C any] interface {
	Resolve(typeID string) (Step[C], error)
}

// ErrUnresolved is returned by a ServiceResolver when a type ID has no
// registered step; the engine surfaces it as a non-retryable Failure with
// richerr.CodeConfiguration.
type ErrUnresolved struct {
	TypeID string
}

func (e *ErrUnresolved) Error() string {
	return "workflow: unresolved step type " + e.TypeID
}

// staticResolver is the trivial ServiceResolver used when every StepNode
// carries its own StepRef directly (the common case for statically built
// graphs); Resolve is never actually called in that case, but the engine
// still requires a non-nil resolver for the dynamic-TypeID path and for
// compensation's resolver.Resolve lookups.
type staticResolver[C any] struct {
	byType map[string]Step[C]
}

// NewStaticResolver builds a ServiceResolver backed by a fixed type->step
// map, for callers that want compensation-by-type-id without a full DI
// container.
func NewStaticResolver[C any](byType map[string]Step[C]) ServiceResolver[C] {
	return &staticResolver[C]{byType: byType}
}

func (r *staticResolver[C]) Resolve(typeID string) (Step[C], error) {
	step, ok := r.byType[typeID]
	if !ok {
		return nil, &ErrUnresolved{TypeID: typeID}
	}
	return step, nil
}

// Span is the minimal tracing span surface the engine needs.
type Span interface {
	SetAttribute(key string, value any)
	RecordError(err error)
	End()
}

// Tracer starts spans around node execution when ExecuteOptions.EnableTracing
// is set. A nil Tracer (or NoopTracer) disables tracing entirely.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

type noopSpan struct{}

func (noopSpan) SetAttribute(string, any) {}
func (noopSpan) RecordError(error)        {}
func (noopSpan) End()                     {}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

// NoopTracer is a Tracer that records nothing, used as the default.
func NoopTracer() Tracer { return noopTracer{} }

// ObservabilitySink publishes the engine's metrics counters, tagged with
// {workflow.id, correlation.id, status}.
type ObservabilitySink interface {
	WorkflowStarted(workflowID, correlationID string)
	WorkflowFinished(workflowID, correlationID string, status ResultStatus, duration_ns int64)
	StepAttempt(workflowID, stepName string, attempt int, status TraceStatus, duration_ns int64)
}

type noopSink struct{}

func (noopSink) WorkflowStarted(string, string)                      {}
func (noopSink) WorkflowFinished(string, string, ResultStatus, int64) {}
func (noopSink) StepAttempt(string, string, int, TraceStatus, int64)  {}

// NoopSink is an ObservabilitySink that records nothing, used as the default.
func NoopSink() ObservabilitySink { return noopSink{} }

// asRichErr wraps a plain error as a richerr.Error with the given code,
// leaving an already-typed richerr.Error untouched.
func asRichErr(code richerr.Code, domain, step, message string, cause error) *richerr.Error {
	if re, ok := cause.(*richerr.Error); ok {
		return re
	}
	return richerr.New(code, domain, step, message, cause)
}
