// Command workflow-demo exercises the workflow execution core against a
// small order-fulfillment graph: fetch (retries once), validate, and either
// publish straight through, fail and roll back, or pause for manual
// approval before publishing.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/azure-samples/workflowcore/internal/driver"
	"github.com/azure-samples/workflowcore/internal/workflow"
	"github.com/azure-samples/workflowcore/pkg/logging"
)

func buildLinearDefinition() *workflow.WorkflowDefinition[*orderContext] {
	return workflow.NewWorkflowDefinition[*orderContext]("order-fulfillment", "Order Fulfillment", "v1", 30*time.Second, func() workflow.Node[*orderContext] {
		return &workflow.SequenceNode[*orderContext]{
			Children: []workflow.Node[*orderContext]{
				&workflow.StepNode[*orderContext]{StepRef: &fetchStep{StepBase: workflow.StepBase[*orderContext]{Retryable: true}}, TypeID: "fetch-order"},
				&workflow.StepNode[*orderContext]{StepRef: &validateStep{}, TypeID: "validate-order"},
				&workflow.StepNode[*orderContext]{StepRef: &publishStep{}, TypeID: "publish-order"},
			},
		}
	})
}

func buildCompensatingDefinition() *workflow.WorkflowDefinition[*orderContext] {
	return workflow.NewWorkflowDefinition[*orderContext]("order-fulfillment-notify", "Order Fulfillment with Notify", "v1", 30*time.Second, func() workflow.Node[*orderContext] {
		return &workflow.SequenceNode[*orderContext]{
			Children: []workflow.Node[*orderContext]{
				&workflow.StepNode[*orderContext]{StepRef: &fetchStep{StepBase: workflow.StepBase[*orderContext]{Retryable: true}}, TypeID: "fetch-order"},
				&workflow.StepNode[*orderContext]{StepRef: &validateStep{}, TypeID: "validate-order"},
				&workflow.StepNode[*orderContext]{StepRef: &publishStep{}, TypeID: "publish-order"},
				&workflow.StepNode[*orderContext]{StepRef: &failingNotifyStep{}, TypeID: "notify-downstream"},
			},
		}
	})
}

func buildApprovalDefinition() *workflow.WorkflowDefinition[*orderContext] {
	return workflow.NewWorkflowDefinition[*orderContext]("order-fulfillment-approval", "Order Fulfillment with Approval", "v1", time.Hour, func() workflow.Node[*orderContext] {
		return &workflow.SequenceNode[*orderContext]{
			Children: []workflow.Node[*orderContext]{
				&workflow.StepNode[*orderContext]{StepRef: &fetchStep{StepBase: workflow.StepBase[*orderContext]{Retryable: true}}, TypeID: "fetch-order"},
				&workflow.StepNode[*orderContext]{StepRef: &validateStep{}, TypeID: "validate-order"},
				&workflow.StepNode[*orderContext]{StepRef: &approvalStep{}, TypeID: "await-approval"},
				&workflow.StepNode[*orderContext]{StepRef: &publishStep{}, TypeID: "publish-order"},
			},
		}
	})
}

func printResult(label string, result *workflow.WorkflowResult[*orderContext]) {
	fmt.Printf("=== %s ===\n", label)
	fmt.Printf("status: %s\n", result.Status)
	fmt.Printf("correlationId: %s\n", result.CorrelationID)
	fmt.Printf("steps executed: %d (succeeded=%d failed=%d retries=%d)\n",
		result.Metrics.StepsExecuted, result.Metrics.StepsSucceeded, result.Metrics.StepsFailed, result.Metrics.TotalRetries)
	if result.ErrorMessage != "" {
		fmt.Printf("error: %s\n", result.ErrorMessage)
	}
	if result.SignalName != "" {
		fmt.Printf("waiting for signal: %s\n", result.SignalName)
	}
	for _, f := range result.CompensationFailures {
		fmt.Printf("compensation failure: step=%s reason=%s\n", f.StepName, f.Reason)
	}
	for _, t := range result.Trace {
		fmt.Printf("  trace: %-20s status=%-10s retries=%d duration=%s\n", t.StepName, t.Status, t.RetryAttempts, t.Duration)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [order-id]",
		Short: "Execute the linear fetch/validate/publish workflow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID := "ORD-1001"
			if len(args) == 1 {
				orderID = args[0]
			}
			engine := workflow.NewEngine[*orderContext](nil, workflow.EngineConfig[*orderContext]{
				Logger: logging.New(logging.DefaultConfig()),
			})
			result := engine.Execute(cmd.Context(), buildLinearDefinition(), &orderContext{OrderID: orderID}, workflow.DefaultExecuteOptions())
			printResult("linear run", result)
			return nil
		},
	}
}

func newCompensateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compensate [order-id]",
		Short: "Execute a workflow that fails after publishing, triggering rollback",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID := "ORD-2002"
			if len(args) == 1 {
				orderID = args[0]
			}
			engine := workflow.NewEngine[*orderContext](nil, workflow.EngineConfig[*orderContext]{
				Logger: logging.New(logging.DefaultConfig()),
			})
			opts := workflow.DefaultExecuteOptions()
			opts.EnableCompensation = true
			result := engine.Execute(cmd.Context(), buildCompensatingDefinition(), &orderContext{OrderID: orderID}, opts)
			printResult("compensating run", result)
			return nil
		},
	}
}

func newApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve [order-id]",
		Short: "Start a workflow that suspends for approval, then signal it to resume",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID := "ORD-3003"
			if len(args) == 1 {
				orderID = args[0]
			}

			logger := logging.New(logging.DefaultConfig())
			engine := workflow.NewEngine[*orderContext](nil, workflow.EngineConfig[*orderContext]{Logger: logger})
			repo := driver.NewMemStore()
			d := driver.NewPersistentDriver[*orderContext](engine, repo, driver.NoopNotifier(), logger, 0)
			d.RegisterDefinition(buildApprovalDefinition())

			instanceID, err := d.Start(cmd.Context(), "order-fulfillment-approval", &orderContext{OrderID: orderID}, "demo-cli")
			if err != nil {
				return err
			}
			status, err := d.GetStatus(cmd.Context(), instanceID)
			if err != nil {
				return err
			}
			fmt.Printf("instance %s suspended: status=%s waitingForSignal=%s\n", instanceID, status.Status, status.WaitingForSignal)

			// Stand in for the driver delivering pendingChanges: mutate the
			// same *orderContext the instance is stored against directly.
			state := status.Context.(*orderContext)
			state.Approved = true

			outcome, err := d.Signal(cmd.Context(), instanceID, "manual-approval", map[string]any{"approved_by": "demo-cli"})
			if err != nil {
				return err
			}
			fmt.Printf("signal outcome: %s\n", outcome)

			final, err := d.GetStatus(cmd.Context(), instanceID)
			if err != nil {
				return err
			}
			fmt.Printf("final status: %s\n", final.Status)
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:   "workflow-demo",
		Short: "Exercises the workflow execution core against a sample order-fulfillment graph",
	}
	root.AddCommand(newRunCmd(), newCompensateCmd(), newApproveCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
