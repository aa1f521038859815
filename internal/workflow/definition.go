package workflow

import (
	"sync"
	"time"
)

// WorkflowDefinition is the immutable, compiled description of a workflow.
// Root is materialized at most once, on first use, via BuildFunc; every
// subsequent Root() call reuses the cached graph.
type WorkflowDefinition[C any] struct {
	WorkflowID      string
	DisplayName     string
	Version         string
	WorkflowTimeout time.Duration

	buildFunc func() Node[C]
	buildOnce sync.Once
	root      Node[C]
}

// NewWorkflowDefinition constructs a definition whose graph is built lazily
// by buildFunc the first time Root() is called.
func NewWorkflowDefinition[C any](workflowID, displayName, version string, workflowTimeout time.Duration, buildFunc func() Node[C]) *WorkflowDefinition[C] {
	return &WorkflowDefinition[C]{
		WorkflowID:      workflowID,
		DisplayName:     displayName,
		Version:         version,
		WorkflowTimeout: workflowTimeout,
		buildFunc:       buildFunc,
	}
}

// Root returns the compiled graph, building it on the first call and
// caching it for every subsequent call.
func (d *WorkflowDefinition[C]) Root() Node[C] {
	d.buildOnce.Do(func() {
		if d.buildFunc != nil {
			d.root = d.buildFunc()
		}
	})
	return d.root
}
