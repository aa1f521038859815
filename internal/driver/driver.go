package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/azure-samples/workflowcore/internal/workflow"
	"github.com/azure-samples/workflowcore/pkg/richerr"
)

// DefaultSignalTimeout is used when a suspending step's metadata carries no
// explicit deadline.
const DefaultSignalTimeout = 24 * time.Hour

// SignalOutcome is the result of PersistentDriver.Signal.
type SignalOutcome string

const (
	SignalResumed   SignalOutcome = "resumed"
	SignalIgnored   SignalOutcome = "ignored"
	SignalTimedOut  SignalOutcome = "timedOut"
	SignalNotFound  SignalOutcome = "notFound"
)

// PersistentDriver wraps an Engine with a StateRepository and a
// SignalNotificationService, turning a single stateless invocation into a
// durable instance that can suspend, persist, and resume across process
// lifetimes. It enforces at most one in-flight engine invocation per
// instance via a per-instance mutex acquired at start and signal and
// released at every terminal or suspended outcome.
type PersistentDriver[C any] struct {
	engine   *workflow.Engine[C]
	repo     StateRepository
	notifier SignalNotificationService
	logger   *slog.Logger

	defaultSignalTimeout time.Duration

	mu          sync.Mutex
	definitions map[string]*workflow.WorkflowDefinition[C]
	locks       map[string]*sync.Mutex
	cancelFuncs map[string]context.CancelFunc
}

// NewPersistentDriver builds a driver over engine and repo. notifier may be
// NoopNotifier(). defaultSignalTimeout falls back to DefaultSignalTimeout
// when zero.
func NewPersistentDriver[C any](engine *workflow.Engine[C], repo StateRepository, notifier SignalNotificationService, logger *slog.Logger, defaultSignalTimeout time.Duration) *PersistentDriver[C] {
	if notifier == nil {
		notifier = NoopNotifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if defaultSignalTimeout <= 0 {
		defaultSignalTimeout = DefaultSignalTimeout
	}
	return &PersistentDriver[C]{
		engine:               engine,
		repo:                 repo,
		notifier:             notifier,
		logger:               logger,
		defaultSignalTimeout: defaultSignalTimeout,
		definitions:          make(map[string]*workflow.WorkflowDefinition[C]),
		locks:                make(map[string]*sync.Mutex),
		cancelFuncs:          make(map[string]context.CancelFunc),
	}
}

// RegisterDefinition makes def available to Start by its WorkflowID, and to
// Signal-triggered replay.
func (d *PersistentDriver[C]) RegisterDefinition(def *workflow.WorkflowDefinition[C]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.definitions[def.WorkflowID] = def
}

func (d *PersistentDriver[C]) instanceLock(instanceID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[instanceID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[instanceID] = l
	}
	return l
}

// Start persists a new instance in Running and invokes the engine from
// root, returning the new instanceId once the first invocation reaches a
// terminal or suspended state.
func (d *PersistentDriver[C]) Start(ctx context.Context, workflowID string, state C, createdBy string) (string, error) {
	d.mu.Lock()
	def, ok := d.definitions[workflowID]
	d.mu.Unlock()
	if !ok {
		return "", richerr.New(richerr.CodeConfiguration, "driver", "", fmt.Sprintf("no registered definition for workflow %s", workflowID), nil)
	}

	instanceID := uuid.NewString()
	now := time.Now()
	inst := &InstanceState{
		InstanceID:     instanceID,
		WorkflowID:     workflowID,
		DisplayName:    def.DisplayName,
		Status:         StatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
		Context:        state,
		PendingChanges: make(map[string]any),
		DefinitionRef:  workflowID,
	}
	if err := d.repo.Create(ctx, inst); err != nil {
		return "", err
	}

	lock := d.instanceLock(instanceID)
	lock.Lock()
	d.invoke(ctx, def, instanceID, state)
	lock.Unlock()

	return instanceID, nil
}

// Signal delivers a named signal to a WaitingForSignal instance, appending
// payload to its pending changes and re-invoking the engine from root. Per
// the replay contract, steps already completed before the suspension are
// expected to consult pending changes and return immediately.
func (d *PersistentDriver[C]) Signal(ctx context.Context, instanceID, signalName string, payload any) (SignalOutcome, error) {
	inst, err := d.repo.Load(ctx, instanceID)
	if err != nil {
		if err == ErrNotFound {
			return SignalNotFound, nil
		}
		return "", err
	}
	if inst.Status != StatusWaitingForSignal || inst.WaitingForSignal != signalName {
		return SignalIgnored, nil
	}
	if !inst.SignalTimeoutAt.IsZero() && inst.SignalTimeoutAt.Before(time.Now()) {
		return SignalTimedOut, nil
	}

	def, ok := d.definitions[inst.WorkflowID]
	if !ok {
		return "", richerr.New(richerr.CodeConfiguration, "driver", "", fmt.Sprintf("no registered definition for workflow %s", inst.WorkflowID), nil)
	}

	lock := d.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err = d.repo.Load(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if inst.Status != StatusWaitingForSignal || inst.WaitingForSignal != signalName {
		return SignalIgnored, nil
	}

	prevUpdatedAt := inst.UpdatedAt
	inst.PendingChanges[signalName] = payload
	inst.Status = StatusRunning
	inst.WaitingForSignal = ""
	inst.UpdatedAt = time.Now()
	if err := d.repo.Update(ctx, prevUpdatedAt, inst); err != nil {
		return "", err
	}

	state, ok := inst.Context.(C)
	if !ok {
		return "", richerr.New(richerr.CodeInternal, "driver", "", "persisted context type mismatch on resume", nil)
	}

	d.invoke(ctx, def, instanceID, state)
	return SignalResumed, nil
}

// Cancel transitions a non-terminal instance to Cancelled and, if an
// invocation is currently in flight for it, cancels that invocation's
// context immediately rather than waiting for the instance lock.
func (d *PersistentDriver[C]) Cancel(ctx context.Context, instanceID, reason string) (bool, error) {
	inst, err := d.repo.Load(ctx, instanceID)
	if err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if inst.Status.IsTerminal() {
		return false, nil
	}

	prevUpdatedAt := inst.UpdatedAt
	inst.Status = StatusCancelled
	inst.UpdatedAt = time.Now()
	inst.History = append(inst.History, HistoryEntry{InvokedAt: inst.UpdatedAt, Status: StatusCancelled, Detail: reason})
	if err := d.repo.Update(ctx, prevUpdatedAt, inst); err != nil {
		return false, err
	}

	d.mu.Lock()
	cancel, ok := d.cancelFuncs[instanceID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return true, nil
}

// GetStatus returns the persisted InstanceState.
func (d *PersistentDriver[C]) GetStatus(ctx context.Context, instanceID string) (*InstanceState, error) {
	return d.repo.Load(ctx, instanceID)
}

// invoke runs one engine invocation against instanceID's definition and
// context, then persists the resulting lifecycle transition. It must be
// called with the instance's lock held; it releases the lock's caller from
// having to track the cancel func by registering/deregistering it itself.
func (d *PersistentDriver[C]) invoke(ctx context.Context, def *workflow.WorkflowDefinition[C], instanceID string, state C) {
	invokeCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancelFuncs[instanceID] = cancel
	d.mu.Unlock()
	defer func() {
		cancel()
		d.mu.Lock()
		delete(d.cancelFuncs, instanceID)
		d.mu.Unlock()
	}()

	result := d.engine.Execute(invokeCtx, def, state, workflow.DefaultExecuteOptions())

	inst, err := d.repo.Load(ctx, instanceID)
	if err != nil {
		d.logger.Error("driver: failed to reload instance after invocation", slog.String("instance_id", instanceID), slog.Any("error", err))
		return
	}

	prevUpdatedAt := inst.UpdatedAt
	inst.Status = fromResultStatus(result.Status)
	inst.Context = result.Context
	inst.UpdatedAt = time.Now()
	inst.History = append(inst.History, HistoryEntry{
		InvokedAt:     inst.UpdatedAt,
		Status:        inst.Status,
		CorrelationID: result.CorrelationID,
		Detail:        result.ErrorMessage,
	})

	if inst.Status == StatusWaitingForSignal {
		inst.WaitingForSignal = result.SignalName
		inst.SignalTimeoutAt = d.signalDeadline(result.Metadata)
		d.notifier.NotifyApprovalRequested(instanceID, result.SignalName)
	} else {
		inst.WaitingForSignal = ""
		inst.SignalTimeoutAt = time.Time{}
	}

	if err := d.repo.Update(ctx, prevUpdatedAt, inst); err != nil {
		d.logger.Error("driver: failed to persist invocation result", slog.String("instance_id", instanceID), slog.Any("error", err))
		return
	}

	switch inst.Status {
	case StatusCompleted:
		d.notifier.NotifyCompleted(instanceID)
	case StatusFailed, StatusTimedOut:
		d.notifier.NotifyErrored(instanceID, result.Err)
	}
}

func (d *PersistentDriver[C]) signalDeadline(metadata map[string]any) time.Time {
	if metadata != nil {
		if deadline, ok := metadata["signal_timeout_at"].(time.Time); ok {
			return deadline
		}
		if dur, ok := metadata["signal_timeout"].(time.Duration); ok {
			return time.Now().Add(dur)
		}
	}
	return time.Now().Add(d.defaultSignalTimeout)
}
