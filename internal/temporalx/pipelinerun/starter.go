package pipelinerun

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/sullysaurus/venues/internal/platform/logger"
)

// Starter launches and signals pipeline workflows. It satisfies
// pipeline.WorkflowStarter.
type Starter struct {
	tc        temporalsdkclient.Client
	taskQueue string
	log       *logger.Logger
}

func NewStarter(tc temporalsdkclient.Client, taskQueue string, log *logger.Logger) *Starter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Starter{tc: tc, taskQueue: taskQueue, log: log}
}

func (s *Starter) StartPipelineWorkflow(ctx context.Context, runID, venueID string) error {
	if s == nil || s.tc == nil {
		return fmt.Errorf("pipelinerun: temporal client not configured")
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:        runID,
		TaskQueue: s.taskQueue,
	}
	run, err := s.tc.ExecuteWorkflow(ctx, opts, WorkflowName)
	if err != nil {
		return fmt.Errorf("start workflow %s: %w", runID, err)
	}
	s.log.Info("pipeline workflow started", "run_id", runID, "venue_id", venueID, "workflow_run_id", run.GetRunID())
	return nil
}

func (s *Starter) CancelPipelineWorkflow(ctx context.Context, runID string) error {
	if s == nil || s.tc == nil {
		return fmt.Errorf("pipelinerun: temporal client not configured")
	}
	if err := s.tc.SignalWorkflow(ctx, runID, "", SignalCancel, nil); err != nil {
		return fmt.Errorf("signal workflow %s: %w", runID, err)
	}
	return nil
}
