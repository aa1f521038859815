// Package workflow implements the DAG-based workflow execution core: the
// node model, retry and timeout policy, execution trace, compensation, and
// the signal/suspend protocol.
package workflow

import (
	"context"
	"time"
)

// Step is the unit of user logic executed by a StepNode. C is the caller's
// opaque context value, threaded unchanged through every step and
// compensator in a single invocation (the engine never reads its fields).
type Step[C any] interface {
	// Name is a stable identifier used for tracing and for matching
	// compensation to the step that originally ran.
	Name() string

	// CanRetry is the capability flag consulted by RetryPolicy alongside a
	// failure's own ShouldRetry bit.
	CanRetry() bool

	// Timeout returns the step's own per-attempt wall-clock cap, or 0 for no
	// per-step cap (the attempt is then bounded only by the workflow-level
	// timeout and cancellation). Independent of the workflow-level timeout.
	Timeout() time.Duration

	// Execute performs the forward action.
	Execute(ctx context.Context, state C) StepOutcome

	// Compensate performs the rollback action. It is expected to be
	// idempotent and tolerant of being invoked after a partial Execute
	// failure.
	Compensate(ctx context.Context, state C) StepOutcome
}

// StepBase is embedded by Step implementations to pick up a no-op
// Compensate and a default CanRetry/Timeout, the way a step author who only
// cares about Execute would want. Embed as StepBase[MyContext].
type StepBase[C any] struct {
	Retryable   bool
	StepTimeout time.Duration
}

// CanRetry returns the embedding step's configured retry capability.
func (b StepBase[C]) CanRetry() bool { return b.Retryable }

// Timeout returns the embedding step's configured per-step timeout.
func (b StepBase[C]) Timeout() time.Duration { return b.StepTimeout }

// Compensate is a no-op success; override when rollback is needed.
func (b StepBase[C]) Compensate(_ context.Context, _ C) StepOutcome {
	return Success(nil)
}

// outcomeKind tags the StepOutcome variant.
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeFailure
	outcomeSuspend
)

// StepOutcome is the tagged result of a single Execute/Compensate attempt.
// Use the Success/Failure/Suspend constructors rather than the zero value.
type StepOutcome struct {
	kind     outcomeKind
	metadata map[string]any

	// Failure fields.
	err         error
	shouldRetry bool

	// Suspend fields.
	signalName string
}

// Success builds a successful outcome carrying optional metadata.
func Success(metadata map[string]any) StepOutcome {
	return StepOutcome{kind: outcomeSuccess, metadata: metadata}
}

// Failure builds a failed outcome. shouldRetry is consulted by RetryPolicy
// together with the step's own CanRetry(); a false here is terminal even if
// retry attempts remain.
func Failure(err error, shouldRetry bool, metadata map[string]any) StepOutcome {
	return StepOutcome{kind: outcomeFailure, err: err, shouldRetry: shouldRetry, metadata: metadata}
}

// Suspend builds a suspension outcome naming the signal that will resume
// this workflow instance. A suspension is a successful pause: it never
// triggers compensation or retry.
func Suspend(signalName string, metadata map[string]any) StepOutcome {
	return StepOutcome{kind: outcomeSuspend, signalName: signalName, metadata: metadata}
}

// IsSuccess reports whether the outcome is a Success.
func (o StepOutcome) IsSuccess() bool { return o.kind == outcomeSuccess }

// IsFailure reports whether the outcome is a Failure.
func (o StepOutcome) IsFailure() bool { return o.kind == outcomeFailure }

// IsSuspend reports whether the outcome is a Suspend.
func (o StepOutcome) IsSuspend() bool { return o.kind == outcomeSuspend }

// Err returns the failure's wrapped error, or nil for other variants.
func (o StepOutcome) Err() error { return o.err }

// ShouldRetry returns the failure's retry eligibility bit.
func (o StepOutcome) ShouldRetry() bool { return o.shouldRetry }

// SignalName returns the suspend's signal name, or "" for other variants.
func (o StepOutcome) SignalName() string { return o.signalName }

// Metadata returns the outcome's attached metadata, which may be nil.
func (o StepOutcome) Metadata() map[string]any { return o.metadata }
