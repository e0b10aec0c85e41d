package pipelinerun

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/sullysaurus/venues/internal/pipeline"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
)

type Activities struct {
	Manager *pipeline.Manager
	Log     *logger.Logger
}

// Tick launches run execution on first call and reports the current stage.
// Unknown runs fail the workflow permanently; they mean the worker process
// restarted and lost the in-memory run registry.
func (a *Activities) Tick(ctx context.Context, runID string) (TickResult, error) {
	if a == nil || a.Manager == nil {
		return TickResult{}, fmt.Errorf("pipelinerun: activities not initialized")
	}

	if err := a.Manager.EnsureExecuting(runID); err != nil {
		if errkind.IsNotFound(err) {
			return TickResult{}, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("run %s not registered on this worker", runID), "run_not_found", err)
		}
		return TickResult{}, err
	}

	snap, err := a.Manager.Progress(runID)
	if err != nil {
		return TickResult{}, err
	}
	return TickResult{
		RunID:    runID,
		Stage:    string(snap.Stage),
		Terminal: snap.Stage.Terminal(),
		Message:  snap.Message,
	}, nil
}

// Cancel marks the run's cancel flag. It does not signal the workflow;
// the workflow is the caller.
func (a *Activities) Cancel(ctx context.Context, runID string) error {
	if a == nil || a.Manager == nil {
		return fmt.Errorf("pipelinerun: activities not initialized")
	}
	if err := a.Manager.CancelRun(runID); err != nil {
		if errkind.IsNotFound(err) {
			if a.Log != nil {
				a.Log.Warn("cancel for unknown run ignored", "run_id", runID)
			}
			return nil
		}
		return err
	}
	return nil
}
