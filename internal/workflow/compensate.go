package workflow

import (
	"context"
	"fmt"
	"log/slog"
)

// Compensator runs compensate for each previously successful step in
// reverse (LIFO) trace order, isolating per-step failures so one bad
// rollback never aborts the rest.
type Compensator[C any] struct {
	resolver ServiceResolver[C]
	logger   *slog.Logger
}

// NewCompensator builds a Compensator backed by the given resolver, used to
// look up a step instance by the StepTypeID recorded in its trace.
func NewCompensator[C any](resolver ServiceResolver[C], logger *slog.Logger) *Compensator[C] {
	return &Compensator[C]{resolver: resolver, logger: logger}
}

// Compensate iterates trace in reverse, invoking Compensate on every entry
// whose Status is Completed. contextTypeID is the %T of the state value the
// engine is currently running with; a trace recorded under a different
// context type is skipped with a diagnostic rather than risking a
// type-mismatched rollback. Cancellation is honored between compensations:
// once ctx is done, the remaining steps are left uncompensated (and are not
// added to the returned failures), and the failures collected so far are
// returned.
func (c *Compensator[C]) Compensate(ctx context.Context, state C, trace []StepTrace, contextTypeID string) []CompensationFailure {
	var failures []CompensationFailure

	for i := len(trace) - 1; i >= 0; i-- {
		entry := trace[i]

		if entry.Status != TraceCompleted {
			continue
		}

		if ctx.Err() != nil {
			c.logger.Warn("compensation interrupted by cancellation",
				slog.String("remaining_step", entry.StepName))
			break
		}

		if entry.ContextTypeID != "" && entry.ContextTypeID != contextTypeID {
			c.logger.Warn("skipping compensation: context type mismatch",
				slog.String("step", entry.StepName),
				slog.String("trace_context_type", entry.ContextTypeID),
				slog.String("current_context_type", contextTypeID))
			failures = append(failures, CompensationFailure{
				StepName: entry.StepName,
				Reason:   "context type mismatch",
			})
			continue
		}

		step, err := c.resolver.Resolve(entry.StepTypeID)
		if err != nil {
			c.logger.Error("skipping compensation: step unresolved",
				slog.String("step", entry.StepName), slog.Any("error", err))
			failures = append(failures, CompensationFailure{
				StepName: entry.StepName,
				Reason:   "step type unresolved",
				Err:      err,
			})
			continue
		}

		c.logger.Info("compensating step", slog.String("step", entry.StepName))
		if failure := c.invokeCompensate(ctx, step, state, entry.StepName); failure != nil {
			failures = append(failures, *failure)
		}
	}

	return failures
}

// invokeCompensate calls step.Compensate, converting both a Failure outcome
// and a recovered panic into a CompensationFailure so that one misbehaving
// compensator never aborts the loop.
func (c *Compensator[C]) invokeCompensate(ctx context.Context, step Step[C], state C, stepName string) (failure *CompensationFailure) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("compensation panicked", slog.String("step", stepName), slog.Any("panic", r))
			failure = &CompensationFailure{
				StepName: stepName,
				Reason:   fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	outcome := step.Compensate(ctx, state)
	if outcome.IsFailure() {
		c.logger.Error("compensation failed", slog.String("step", stepName), slog.Any("error", outcome.Err()))
		return &CompensationFailure{
			StepName: stepName,
			Reason:   "compensate returned failure",
			Err:      outcome.Err(),
		}
	}
	return nil
}
