// Package driver wraps the workflow engine with persistence, suspend/resume
// over named signals, and a sweeper that times out stalled instances. The
// engine itself is stateless; everything here is what makes an instance
// durable across process lifetimes.
package driver

import (
	"time"

	"github.com/azure-samples/workflowcore/internal/workflow"
)

// Status is the lifecycle state of a persisted instance. The engine
// transitions it monotonically except that WaitingForSignal may re-enter
// Running on signal delivery.
type Status string

const (
	StatusRunning          Status = "running"
	StatusSuspended        Status = "suspended"
	StatusWaitingForSignal Status = "waiting_for_signal"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
	StatusTimedOut         Status = "timed_out"
)

// HistoryEntry records one engine invocation against an instance, for audit
// and for reconstructing how many times an instance has been replayed.
type HistoryEntry struct {
	InvokedAt     time.Time
	Status        Status
	CorrelationID string
	Detail        string
}

// InstanceState is the durable record of one in-flight (or terminal)
// workflow invocation. Context is stored as an opaque blob (any) so the
// repository never needs to know the caller's concrete type; real
// StateRepository implementations are expected to serialize it.
type InstanceState struct {
	InstanceID  string
	WorkflowID  string
	DisplayName string
	Status      Status

	CreatedAt time.Time
	UpdatedAt time.Time

	Context any

	CurrentStepID    string
	WaitingForSignal string
	SignalTimeoutAt  time.Time

	History       []HistoryEntry
	PendingChanges map[string]any

	// DefinitionRef lets a repository re-hydrate the WorkflowDefinition on
	// replay without the driver having to keep every definition in memory;
	// the in-memory driver in this package instead keeps definitions live
	// and only uses this as a label.
	DefinitionRef string
}

// IsTerminal reports whether status will never transition again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

func fromResultStatus(s workflow.ResultStatus) Status {
	switch s {
	case workflow.StatusSuccess:
		return StatusCompleted
	case workflow.StatusFailure:
		return StatusFailed
	case workflow.StatusCancelled:
		return StatusCancelled
	case workflow.StatusTimedOut:
		return StatusTimedOut
	case workflow.StatusSuspended:
		return StatusWaitingForSignal
	default:
		return StatusFailed
	}
}
