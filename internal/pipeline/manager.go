package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sullysaurus/venues/internal/compute"
	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
	"github.com/sullysaurus/venues/internal/platform/objstore"
)

var (
	// ErrVenueBusy means another run is active for the venue. Concurrent
	// runs on one venue would race on the artifact prefix.
	ErrVenueBusy = errors.New("a pipeline run is already active for this venue")
	// ErrRunNotFinished means a result was requested before the run
	// reached a terminal stage.
	ErrRunNotFinished = errors.New("pipeline run is not finished")
)

// RunRecorder persists run lifecycle events to the metadata store. A nil
// recorder disables durability; runs then live only in process memory.
type RunRecorder interface {
	RecordStart(ctx context.Context, runID string, input domain.PipelineInput) error
	RecordProgress(ctx context.Context, runID string, snap domain.ProgressSnapshot) error
	RecordResult(ctx context.Context, runID string, stage domain.Stage, result *domain.PipelineResult) error
}

// WorkflowStarter hands run execution to an external durable driver
// (Temporal). When nil, the Manager executes runs on its own goroutines.
type WorkflowStarter interface {
	StartPipelineWorkflow(ctx context.Context, runID, venueID string) error
	CancelPipelineWorkflow(ctx context.Context, runID string) error
}

type managedRun struct {
	id      string
	venueID string
	runner  *Runner
	done    chan struct{}
	result  *domain.PipelineResult
	started bool
}

// Manager owns the in-process run registry. It serializes runs per venue,
// mints run ids, and fans lifecycle events out to the recorder.
type Manager struct {
	store    objstore.Store
	compute  compute.Client
	policies Policies
	recorder RunRecorder
	starter  WorkflowStarter
	log      *logger.Logger

	mu   sync.Mutex
	runs map[string]*managedRun
	busy map[string]string
}

func NewManager(store objstore.Store, cc compute.Client, policies Policies, recorder RunRecorder, starter WorkflowStarter, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		store:    store,
		compute:  cc,
		policies: policies,
		recorder: recorder,
		starter:  starter,
		log:      log.With("component", "pipeline_manager"),
		runs:     map[string]*managedRun{},
		busy:     map[string]string{},
	}
}

// Start validates the input, registers a run, and launches execution. It
// returns ErrVenueBusy while another run on the same venue is active.
func (m *Manager) Start(ctx context.Context, input domain.PipelineInput) (string, error) {
	input.ApplyDefaults()
	if err := input.Validate(); err != nil {
		return "", errkind.Wrap(errkind.InvalidInput, "pipeline.start", err)
	}

	runID := newRunID(input.VenueID)

	m.mu.Lock()
	if activeID, ok := m.busy[input.VenueID]; ok {
		m.mu.Unlock()
		return "", fmt.Errorf("%w (active run %s)", ErrVenueBusy, activeID)
	}
	run := &managedRun{
		id:      runID,
		venueID: input.VenueID,
		runner:  NewRunner(runID, input, m.store, m.compute, m.policies, m.log),
		done:    make(chan struct{}),
	}
	if m.recorder != nil {
		// Checkpoint the run row on every stage transition, not just at the
		// end, so a restarted process can still serve the run's history.
		run.runner.OnProgress(func(snap domain.ProgressSnapshot) {
			if err := m.recorder.RecordProgress(context.Background(), runID, snap); err != nil {
				m.log.Warn("progress checkpoint failed", "run_id", runID, "error", err)
			}
		})
	}
	m.runs[runID] = run
	m.busy[input.VenueID] = runID
	m.mu.Unlock()

	if m.recorder != nil {
		if err := m.recorder.RecordStart(ctx, runID, input); err != nil {
			m.release(run)
			return "", fmt.Errorf("record run start: %w", err)
		}
	}

	if m.starter != nil {
		if err := m.starter.StartPipelineWorkflow(ctx, runID, input.VenueID); err != nil {
			m.release(run)
			return "", fmt.Errorf("start pipeline workflow: %w", err)
		}
		m.log.Info("pipeline run handed to workflow driver", "run_id", runID)
		return runID, nil
	}

	m.mu.Lock()
	run.started = true
	m.mu.Unlock()
	go m.execute(context.Background(), run)
	return runID, nil
}

// EnsureExecuting launches run execution if it has not started yet. The
// workflow tick activity calls this on every poll; only the first call per
// run spawns the execution goroutine.
func (m *Manager) EnsureExecuting(runID string) error {
	m.mu.Lock()
	run, ok := m.runs[runID]
	if ok && !run.started {
		run.started = true
		m.mu.Unlock()
		go m.execute(context.Background(), run)
		return nil
	}
	m.mu.Unlock()
	if !ok {
		return errkind.New(errkind.NotFound, "pipeline.execute", "unknown run %s", runID)
	}
	return nil
}

func (m *Manager) execute(ctx context.Context, run *managedRun) {
	defer m.release(run)

	result := run.runner.Run(ctx)

	m.mu.Lock()
	run.result = result
	m.mu.Unlock()
	close(run.done)

	if m.recorder != nil {
		bg := context.WithoutCancel(ctx)
		snap := run.runner.Query()
		if err := m.recorder.RecordProgress(bg, run.id, snap); err != nil {
			m.log.Warn("recording final progress failed", "run_id", run.id, "error", err)
		}
		if err := m.recorder.RecordResult(bg, run.id, snap.Stage, result); err != nil {
			m.log.Warn("recording run result failed", "run_id", run.id, "error", err)
		}
	}
}

func (m *Manager) release(run *managedRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[run.venueID] == run.id {
		delete(m.busy, run.venueID)
	}
}

// Progress returns the current snapshot for a run.
func (m *Manager) Progress(runID string) (domain.ProgressSnapshot, error) {
	m.mu.Lock()
	run, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return domain.ProgressSnapshot{}, errkind.New(errkind.NotFound, "pipeline.progress", "unknown run %s", runID)
	}
	return run.runner.Query(), nil
}

// Result returns the terminal result, or ErrRunNotFinished.
func (m *Manager) Result(runID string) (*domain.PipelineResult, error) {
	m.mu.Lock()
	run, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return nil, errkind.New(errkind.NotFound, "pipeline.result", "unknown run %s", runID)
	}
	select {
	case <-run.done:
	default:
		return nil, ErrRunNotFinished
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return run.result, nil
}

// Cancel requests cancellation of a run. Idempotent, including on runs that
// already finished.
func (m *Manager) Cancel(ctx context.Context, runID string) error {
	m.mu.Lock()
	run, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return errkind.New(errkind.NotFound, "pipeline.cancel", "unknown run %s", runID)
	}
	run.runner.Cancel()
	if m.starter != nil {
		if err := m.starter.CancelPipelineWorkflow(ctx, runID); err != nil {
			m.log.Warn("workflow cancel signal failed", "run_id", runID, "error", err)
		}
	}
	return nil
}

// CancelRun marks the cancel flag without signaling the workflow driver.
// The Temporal signal handler uses this to avoid signaling itself.
func (m *Manager) CancelRun(runID string) error {
	m.mu.Lock()
	run, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return errkind.New(errkind.NotFound, "pipeline.cancel", "unknown run %s", runID)
	}
	run.runner.Cancel()
	return nil
}

// Wait blocks until a run reaches a terminal stage. Test helper and
// shutdown path.
func (m *Manager) Wait(ctx context.Context, runID string) error {
	m.mu.Lock()
	run, ok := m.runs[runID]
	m.mu.Unlock()
	if !ok {
		return errkind.New(errkind.NotFound, "pipeline.wait", "unknown run %s", runID)
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newRunID(venueID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("venue-pipeline-%s-%s", venueID, suffix)
}
