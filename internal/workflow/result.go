package workflow

import (
	"time"

	"github.com/azure-samples/workflowcore/pkg/richerr"
)

// ResultStatus tags the WorkflowResult variant.
type ResultStatus string

const (
	StatusSuccess   ResultStatus = "success"
	StatusFailure   ResultStatus = "failure"
	StatusSuspended ResultStatus = "suspended"
	StatusCancelled ResultStatus = "cancelled"
	StatusTimedOut  ResultStatus = "timed_out"
)

// Metrics summarizes a single invocation's step accounting.
type Metrics struct {
	TotalDuration      time.Duration
	StepsExecuted      int
	StepsSucceeded     int
	StepsFailed        int
	TotalRetries       int
	AverageStepDuration time.Duration
	DroppedTraces      uint64
}

// CompensationFailure records a single step's rollback failure; it never
// aborts the overall compensation pass.
type CompensationFailure struct {
	StepName string
	Reason   string
	Err      error
}

// WorkflowResult is the single terminal outcome of one Engine invocation.
// Exactly one of these is produced per Execute/ExecuteWithStreaming call.
type WorkflowResult[C any] struct {
	Status ResultStatus

	// Context is the same reference passed into Execute; the engine never
	// allocates a new one.
	Context C

	Metrics       Metrics
	Trace         []StepTrace // nil unless EnableExecutionTracing was set
	CorrelationID string

	// Set for Failure, Cancelled and TimedOut results; CompensationFailures
	// only for Failure and TimedOut with compensation enabled.
	ErrorMessage         string
	Err                  *richerr.Error
	CompensationFailures []CompensationFailure

	// Suspended-only fields.
	SignalName string
	Metadata   map[string]any
}

// IsTerminal is always true: WorkflowResult only ever represents a terminal
// state (including Suspended, which is a terminal state for the current
// invocation even though the instance as a whole may resume later).
func (r *WorkflowResult[C]) IsTerminal() bool { return true }
