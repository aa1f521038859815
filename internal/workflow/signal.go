package workflow

import (
	"context"
	"strings"
)

// suspendSentinelPrefix is the reserved error-message prefix used to encode
// a Suspend outcome over a plain `error` return, for step implementations
// that predate (or simply prefer) returning error instead of StepOutcome.
// This is an interop fallback; StepOutcome itself is a real sum type and
// should be preferred by new steps.
const suspendSentinelPrefix = "WAITING_FOR_SIGNAL:"

// SuspendSentinel formats the sentinel error message for a given signal
// name. Pair with ExtractSuspendSignal to round-trip exactly.
func SuspendSentinel(signalName string) string {
	return suspendSentinelPrefix + signalName
}

// ExtractSuspendSignal recognizes the sentinel prefix in an error message
// and returns the signal name it encodes. ok is false for any error that
// does not carry the sentinel, including nil.
func ExtractSuspendSignal(err error) (signalName string, ok bool) {
	if err == nil {
		return "", false
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, suspendSentinelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(msg, suspendSentinelPrefix), true
}

// FuncStep adapts a plain `func(state) error` into a Step, for
// straightforward steps that have no use for StepOutcome's richer shape.
// A nil error is Success; an error carrying the suspend sentinel is
// translated to Suspend; any other error is Failure with ShouldRetry set to
// the adapter's configured default.
type FuncStep[C any] struct {
	StepBase[C]
	StepName    string
	Fn          func(state C) error
	RetryOnFail bool
}

// NewFuncStep builds a FuncStep with retryable=true by default, matching the
// teacher's DefaultStepRetryPolicy() convention of retrying most failures.
func NewFuncStep[C any](name string, fn func(state C) error) *FuncStep[C] {
	return &FuncStep[C]{
		StepBase:    StepBase[C]{Retryable: true},
		StepName:    name,
		Fn:          fn,
		RetryOnFail: true,
	}
}

// Name implements Step.
func (s *FuncStep[C]) Name() string { return s.StepName }

// Execute implements Step, translating the plain error return into a
// StepOutcome per the sentinel rules above. ctx is unused by the adapted
// function itself; FuncStep is meant for steps with no need of
// cancellation awareness.
func (s *FuncStep[C]) Execute(_ context.Context, state C) StepOutcome {
	err := s.Fn(state)
	if err == nil {
		return Success(nil)
	}
	if signalName, ok := ExtractSuspendSignal(err); ok {
		return Suspend(signalName, nil)
	}
	return Failure(err, s.RetryOnFail, nil)
}
