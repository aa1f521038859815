package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuspendSentinel_RoundTrips(t *testing.T) {
	name, ok := ExtractSuspendSignal(errors.New(SuspendSentinel("manual-approval")))
	require.True(t, ok)
	assert.Equal(t, "manual-approval", name)
}

func TestExtractSuspendSignal_RejectsUnrelatedErrors(t *testing.T) {
	_, ok := ExtractSuspendSignal(errors.New("upstream timed out"))
	assert.False(t, ok)

	_, ok = ExtractSuspendSignal(nil)
	assert.False(t, ok)
}

func TestFuncStep_TranslatesSentinelToSuspend(t *testing.T) {
	step := NewFuncStep[*testState]("approval-gate", func(state *testState) error {
		return errors.New(SuspendSentinel("manual-approval"))
	})

	outcome := step.Execute(context.Background(), &testState{})
	require.True(t, outcome.IsSuspend())
	assert.Equal(t, "manual-approval", outcome.SignalName())
}

func TestFuncStep_TranslatesPlainErrorToFailure(t *testing.T) {
	step := NewFuncStep[*testState]("flaky", func(state *testState) error {
		return errors.New("boom")
	})

	outcome := step.Execute(context.Background(), &testState{})
	require.True(t, outcome.IsFailure())
	assert.True(t, outcome.ShouldRetry())
	assert.EqualError(t, outcome.Err(), "boom")
}

func TestFuncStep_NilErrorIsSuccess(t *testing.T) {
	step := NewFuncStep[*testState]("noop", func(state *testState) error { return nil })
	outcome := step.Execute(context.Background(), &testState{})
	assert.True(t, outcome.IsSuccess())
}
