package driver

import (
	"context"
	"errors"
	"time"
)

// ErrConcurrentUpdate is returned by StateRepository.Update when the stored
// UpdatedAt no longer matches the caller's expectation, signalling a
// concurrent writer (compare-and-set failure).
var ErrConcurrentUpdate = errors.New("driver: concurrent instance update")

// ErrNotFound is returned by Load for an unknown instanceId.
var ErrNotFound = errors.New("driver: instance not found")

// StateRepository is the persistence capability the PersistentDriver
// depends on. Concrete backends (SQL, document stores, blob storage) live
// outside this module; memstore.go ships an in-memory implementation for
// tests and for the demo CLI.
type StateRepository interface {
	Create(ctx context.Context, state *InstanceState) error
	Load(ctx context.Context, instanceID string) (*InstanceState, error)
	// Update performs a compare-and-set on UpdatedAt: prevUpdatedAt must
	// match the stored record's current UpdatedAt or Update returns
	// ErrConcurrentUpdate and leaves the stored record untouched. state's own
	// UpdatedAt is the new value to persist.
	Update(ctx context.Context, prevUpdatedAt time.Time, state *InstanceState) error
	QueryWaitingWithTimeout(ctx context.Context, now time.Time, limit int) ([]*InstanceState, error)
	Delete(ctx context.Context, instanceID string) error
}

// SignalNotificationService is an optional observer of driver lifecycle
// events. A no-op implementation (NoopNotifier) is always acceptable.
type SignalNotificationService interface {
	NotifyApprovalRequested(instanceID, signalName string)
	NotifyCompleted(instanceID string)
	NotifyErrored(instanceID string, err error)
}

type noopNotifier struct{}

func (noopNotifier) NotifyApprovalRequested(string, string) {}
func (noopNotifier) NotifyCompleted(string)                 {}
func (noopNotifier) NotifyErrored(string, error)             {}

// NoopNotifier is a SignalNotificationService that does nothing.
func NoopNotifier() SignalNotificationService { return noopNotifier{} }
