package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure-samples/workflowcore/pkg/logging"
)

type panickyCompensator struct {
	StepBase[*testState]
	name string
}

func (s *panickyCompensator) Name() string { return s.name }
func (s *panickyCompensator) Execute(_ context.Context, _ *testState) StepOutcome {
	return Success(nil)
}
func (s *panickyCompensator) Compensate(_ context.Context, _ *testState) StepOutcome {
	panic("rollback exploded")
}

type failingCompensator struct {
	StepBase[*testState]
	name string
}

func (s *failingCompensator) Name() string { return s.name }
func (s *failingCompensator) Execute(_ context.Context, _ *testState) StepOutcome {
	return Success(nil)
}
func (s *failingCompensator) Compensate(_ context.Context, _ *testState) StepOutcome {
	return Failure(errRollbackRejected, false, nil)
}

var errRollbackRejected = context.DeadlineExceeded

func TestCompensator_IsolatesPanicsAndFailures(t *testing.T) {
	resolver := NewStaticResolver[*testState](map[string]Step[*testState]{
		"panicky":  &panickyCompensator{name: "panicky"},
		"failing":  &failingCompensator{name: "failing"},
		"ok":       &compensatingStep{name: "ok", compensated: new(bool)},
	})
	comp := NewCompensator[*testState](resolver, logging.Noop())

	contextType := "*workflow.testState"
	trace := []StepTrace{
		{StepName: "ok", StepTypeID: "ok", ContextTypeID: contextType, Status: TraceCompleted},
		{StepName: "failing", StepTypeID: "failing", ContextTypeID: contextType, Status: TraceCompleted},
		{StepName: "panicky", StepTypeID: "panicky", ContextTypeID: contextType, Status: TraceCompleted},
	}

	failures := comp.Compensate(context.Background(), &testState{}, trace, contextType)

	require.Len(t, failures, 2)
	assert.Equal(t, "panicky", failures[0].StepName)
	assert.Contains(t, failures[0].Reason, "panic")
	assert.Equal(t, "failing", failures[1].StepName)
}

func TestCompensator_SkipsNonCompletedEntries(t *testing.T) {
	resolver := NewStaticResolver[*testState](map[string]Step[*testState]{})
	comp := NewCompensator[*testState](resolver, logging.Noop())

	trace := []StepTrace{
		{StepName: "suspended-step", StepTypeID: "x", Status: TraceSuspended},
	}
	failures := comp.Compensate(context.Background(), &testState{}, trace, "anything")
	assert.Empty(t, failures)
}

func TestCompensator_StopsOnCancellation(t *testing.T) {
	resolver := NewStaticResolver[*testState](map[string]Step[*testState]{
		"ok": &compensatingStep{name: "ok", compensated: new(bool)},
	})
	comp := NewCompensator[*testState](resolver, logging.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trace := []StepTrace{
		{StepName: "ok", StepTypeID: "ok", ContextTypeID: "t", Status: TraceCompleted},
	}
	failures := comp.Compensate(ctx, &testState{}, trace, "t")
	assert.Empty(t, failures)
}

func TestCompensator_SkipsContextTypeMismatch(t *testing.T) {
	resolver := NewStaticResolver[*testState](map[string]Step[*testState]{
		"ok": &compensatingStep{name: "ok", compensated: new(bool)},
	})
	comp := NewCompensator[*testState](resolver, logging.Noop())

	trace := []StepTrace{
		{StepName: "ok", StepTypeID: "ok", ContextTypeID: "*otherpkg.Context", Status: TraceCompleted},
	}
	failures := comp.Compensate(context.Background(), &testState{}, trace, "*workflow.testState")
	require.Len(t, failures, 1)
	assert.Equal(t, "context type mismatch", failures[0].Reason)
}
