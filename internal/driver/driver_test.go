package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure-samples/workflowcore/internal/workflow"
	"github.com/azure-samples/workflowcore/pkg/logging"
)

type orderState struct {
	Step1Ran bool
	Step2Ran bool
	Step3Ran bool
	Approved bool
}

type runOnceStep struct {
	workflow.StepBase[*orderState]
	name string
	mark func(*orderState)
}

func (s *runOnceStep) Name() string { return s.name }
func (s *runOnceStep) Execute(_ context.Context, state *orderState) workflow.StepOutcome {
	s.mark(state)
	return workflow.Success(nil)
}

type approvalGateStep struct {
	workflow.StepBase[*orderState]
}

func (s *approvalGateStep) Name() string { return "approval-gate" }
func (s *approvalGateStep) Execute(_ context.Context, state *orderState) workflow.StepOutcome {
	if state.Approved {
		return workflow.Success(nil)
	}
	return workflow.Suspend("approval", nil)
}

func buildApprovalDef() *workflow.WorkflowDefinition[*orderState] {
	return workflow.NewWorkflowDefinition[*orderState]("approval-flow", "Approval Flow", "v1", time.Minute, func() workflow.Node[*orderState] {
		return &workflow.SequenceNode[*orderState]{Children: []workflow.Node[*orderState]{
			&workflow.StepNode[*orderState]{StepRef: &runOnceStep{name: "A", mark: func(s *orderState) { s.Step1Ran = true }}, TypeID: "A"},
			&workflow.StepNode[*orderState]{StepRef: &approvalGateStep{}, TypeID: "B"},
			&workflow.StepNode[*orderState]{StepRef: &runOnceStep{name: "C", mark: func(s *orderState) { s.Step3Ran = true }}, TypeID: "C"},
		}}
	})
}

func TestPersistentDriver_SuspensionAndResumption(t *testing.T) {
	engine := workflow.NewEngine[*orderState](nil, workflow.EngineConfig[*orderState]{Logger: logging.Noop()})
	repo := NewMemStore()
	d := NewPersistentDriver[*orderState](engine, repo, NoopNotifier(), logging.Noop(), 0)
	d.RegisterDefinition(buildApprovalDef())

	instanceID, err := d.Start(context.Background(), "approval-flow", &orderState{}, "tester")
	require.NoError(t, err)

	status, err := d.GetStatus(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingForSignal, status.Status)
	assert.Equal(t, "approval", status.WaitingForSignal)

	state := status.Context.(*orderState)
	assert.True(t, state.Step1Ran)
	assert.False(t, state.Step3Ran)

	// Ignored: wrong signal name.
	outcome, err := d.Signal(context.Background(), instanceID, "not-approval", nil)
	require.NoError(t, err)
	assert.Equal(t, SignalIgnored, outcome)

	state.Approved = true
	outcome, err = d.Signal(context.Background(), instanceID, "approval", map[string]any{"by": "tester"})
	require.NoError(t, err)
	assert.Equal(t, SignalResumed, outcome)

	final, err := d.GetStatus(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	finalState := final.Context.(*orderState)
	assert.True(t, finalState.Step3Ran)
}

func TestPersistentDriver_SignalUnknownInstance(t *testing.T) {
	engine := workflow.NewEngine[*orderState](nil, workflow.EngineConfig[*orderState]{Logger: logging.Noop()})
	d := NewPersistentDriver[*orderState](engine, NewMemStore(), NoopNotifier(), logging.Noop(), 0)

	outcome, err := d.Signal(context.Background(), "missing", "approval", nil)
	require.NoError(t, err)
	assert.Equal(t, SignalNotFound, outcome)
}

func TestPersistentDriver_CancelIsTerminalOnce(t *testing.T) {
	engine := workflow.NewEngine[*orderState](nil, workflow.EngineConfig[*orderState]{Logger: logging.Noop()})
	repo := NewMemStore()
	d := NewPersistentDriver[*orderState](engine, repo, NoopNotifier(), logging.Noop(), 0)
	d.RegisterDefinition(buildApprovalDef())

	instanceID, err := d.Start(context.Background(), "approval-flow", &orderState{}, "tester")
	require.NoError(t, err)

	ok, err := d.Cancel(context.Background(), instanceID, "operator requested cancel")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Cancel(context.Background(), instanceID, "operator requested cancel again")
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := d.GetStatus(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status.Status)
}

func TestMemStore_UpdateRejectsStaleWrite(t *testing.T) {
	store := NewMemStore()
	now := time.Now()
	inst := &InstanceState{InstanceID: "i1", Status: StatusRunning, CreatedAt: now, UpdatedAt: now, PendingChanges: map[string]any{}}
	require.NoError(t, store.Create(context.Background(), inst))

	stale := now.Add(-time.Hour)
	inst.UpdatedAt = now.Add(time.Second)
	err := store.Update(context.Background(), stale, inst)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)

	err = store.Update(context.Background(), now, inst)
	assert.NoError(t, err)
}

func TestTimeoutSweeper_CancelsExpiredInstances(t *testing.T) {
	engine := workflow.NewEngine[*orderState](nil, workflow.EngineConfig[*orderState]{Logger: logging.Noop()})
	repo := NewMemStore()
	d := NewPersistentDriver[*orderState](engine, repo, NoopNotifier(), logging.Noop(), 0)
	d.RegisterDefinition(buildApprovalDef())

	instanceID, err := d.Start(context.Background(), "approval-flow", &orderState{}, "tester")
	require.NoError(t, err)

	status, err := d.GetStatus(context.Background(), instanceID)
	require.NoError(t, err)
	prevUpdatedAt := status.UpdatedAt
	status.SignalTimeoutAt = time.Now().Add(-time.Minute)
	status.UpdatedAt = time.Now()
	require.NoError(t, repo.Update(context.Background(), prevUpdatedAt, status))

	sweeper := NewTimeoutSweeper[*orderState](d, repo, logging.Noop(), 10*time.Second, 10)
	ok := sweeper.sweepOnce(context.Background())
	assert.True(t, ok)

	final, err := d.GetStatus(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)
}
