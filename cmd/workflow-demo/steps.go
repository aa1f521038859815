package main

import (
	"context"
	"fmt"
	"time"

	"github.com/azure-samples/workflowcore/internal/workflow"
)

// orderContext is the caller-owned state threaded through every step of the
// sample order-fulfillment workflow. The engine never reads its fields.
type orderContext struct {
	OrderID   string
	Fetched   bool
	Validated bool
	Published bool
	Approved  bool
	Attempts  int
}

// fetchStep simulates loading the order from an upstream system. It fails
// once before succeeding, to exercise the retry path in the demo.
type fetchStep struct {
	workflow.StepBase[*orderContext]
}

func (s *fetchStep) Name() string { return "fetch-order" }

func (s *fetchStep) Execute(_ context.Context, state *orderContext) workflow.StepOutcome {
	state.Attempts++
	if state.Attempts < 2 {
		return workflow.Failure(fmt.Errorf("upstream order service unavailable"), true, nil)
	}
	state.Fetched = true
	return workflow.Success(map[string]any{"order_id": state.OrderID})
}

// validateStep requires the order to have been fetched.
type validateStep struct {
	workflow.StepBase[*orderContext]
}

func (s *validateStep) Name() string { return "validate-order" }

func (s *validateStep) Execute(_ context.Context, state *orderContext) workflow.StepOutcome {
	if !state.Fetched {
		return workflow.Failure(fmt.Errorf("order %s was never fetched", state.OrderID), false, nil)
	}
	state.Validated = true
	return workflow.Success(nil)
}

// approvalStep suspends the workflow until a "manual-approval" signal
// arrives, then consults the context's PendingChanges-derived Approved flag
// on replay. In this demo the caller sets Approved directly before
// re-invoking, standing in for the PersistentDriver's pendingChanges
// delivery.
type approvalStep struct {
	workflow.StepBase[*orderContext]
}

func (s *approvalStep) Name() string { return "await-approval" }

func (s *approvalStep) Execute(_ context.Context, state *orderContext) workflow.StepOutcome {
	if state.Approved {
		return workflow.Success(nil)
	}
	return workflow.Suspend("manual-approval", map[string]any{"signal_timeout": 10 * time.Minute})
}

// publishStep simulates publishing the order, with a compensating action
// that reverses it. This is the step a failed downstream step would trigger
// rollback against.
type publishStep struct {
	workflow.StepBase[*orderContext]
}

func (s *publishStep) Name() string { return "publish-order" }

func (s *publishStep) Execute(_ context.Context, state *orderContext) workflow.StepOutcome {
	if !state.Validated {
		return workflow.Failure(fmt.Errorf("order %s was never validated", state.OrderID), false, nil)
	}
	state.Published = true
	return workflow.Success(nil)
}

func (s *publishStep) Compensate(_ context.Context, state *orderContext) workflow.StepOutcome {
	state.Published = false
	return workflow.Success(nil)
}

// failingNotifyStep always fails without retry, used in the compensation
// demo to force a terminal Failure after publishStep has already succeeded.
type failingNotifyStep struct {
	workflow.StepBase[*orderContext]
}

func (s *failingNotifyStep) Name() string { return "notify-downstream" }

func (s *failingNotifyStep) Execute(_ context.Context, state *orderContext) workflow.StepOutcome {
	return workflow.Failure(fmt.Errorf("downstream notification endpoint rejected the order"), false, nil)
}
