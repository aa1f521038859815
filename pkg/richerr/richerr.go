// Package richerr provides the structured error taxonomy used throughout the
// workflow core: every failure path yields a typed, inspectable error instead
// of an opaque string, so callers can branch on Code without parsing
// messages.
package richerr

import "fmt"

// Code classifies the kind of failure, per the engine's error taxonomy.
type Code string

const (
	// CodeStepFailure is an operational failure returned by a step's execute.
	CodeStepFailure Code = "step_failure"
	// CodeStepTimeout is a per-step wall-clock deadline exceeded.
	CodeStepTimeout Code = "step_timeout"
	// CodeWorkflowTimeout is the workflow-level deadline firing.
	CodeWorkflowTimeout Code = "workflow_timeout"
	// CodeCancelled is the caller's cancellation signal firing.
	CodeCancelled Code = "cancelled"
	// CodeConfiguration covers a nil root, unresolvable step, or node revisit.
	CodeConfiguration Code = "configuration_error"
	// CodeCompensationFailure is a per-step failure during rollback.
	CodeCompensationFailure Code = "compensation_failure"
	// CodeInternal is an uncaught exception inside engine machinery itself.
	CodeInternal Code = "internal_error"
)

// Error is the structured error carried on WorkflowResult.Failure and
// returned by PersistentDriver operations.
type Error struct {
	Code    Code
	Domain  string
	Step    string
	Message string
	Cause   error
}

// New creates a structured error. domain is typically "workflow" or
// "compensator"; step may be empty for workflow-level failures.
func New(code Code, domain, step, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Domain:  domain,
		Step:    step,
		Message: message,
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	prefix := e.Domain
	if e.Step != "" {
		prefix = fmt.Sprintf("%s:%s", e.Domain, e.Step)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", prefix, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", prefix, e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by Code, so callers can do errors.Is(err, richerr.New(richerr.CodeStepTimeout, ...)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// With returns a new Error with e's Code, Domain and Step, the given
// message, and e itself as the Cause, useful for annotating an error as it
// crosses a component boundary.
func (e *Error) With(message string) *Error {
	return &Error{
		Code:    e.Code,
		Domain:  e.Domain,
		Step:    e.Step,
		Message: message,
		Cause:   e,
	}
}
