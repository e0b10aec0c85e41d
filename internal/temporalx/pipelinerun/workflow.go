package pipelinerun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"
)

// Workflow drives a pipeline run to a terminal stage by polling the tick
// activity. The run executes inside the worker process; the workflow only
// observes stage transitions and relays cancel requests, so its history
// stays small and deterministic.
func Workflow(ctx workflow.Context) error {
	runID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if runID == "" {
		return fmt.Errorf("pipelinerun: missing run id")
	}

	const (
		pollInterval         = 2 * time.Second
		continueTickLimit    = 2000
		continueHistoryLimit = 15000
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         nil, // stage retries run inside the pipeline itself
	})

	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)
	cancelSent := false
	tickCount := 0

	for {
		if !cancelSent {
			var sig any
			for cancelCh.ReceiveAsync(&sig) {
				cancelSent = true
			}
			if cancelSent {
				if err := workflow.ExecuteActivity(ctx, ActivityCancel, runID).Get(ctx, nil); err != nil {
					return err
				}
			}
		}

		tickCount++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, runID).Get(ctx, &out); err != nil {
			return err
		}

		if out.Terminal {
			if strings.EqualFold(out.Stage, "failed") {
				return fmt.Errorf("pipeline run failed: %s", strings.TrimSpace(out.Message))
			}
			return nil
		}

		if err := workflow.Sleep(ctx, pollInterval); err != nil {
			return err
		}
		if shouldContinueAsNew(ctx, tickCount, continueTickLimit, continueHistoryLimit) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func shouldContinueAsNew(ctx workflow.Context, ticks int, maxTicks int, maxHistory int) bool {
	if maxTicks > 0 && ticks >= maxTicks {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
