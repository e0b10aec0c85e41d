package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
	"github.com/sullysaurus/venues/internal/platform/objstore"
)

type memoryRecorder struct {
	mu       sync.Mutex
	starts   []string
	results  map[string]domain.Stage
	progress map[string]domain.ProgressSnapshot
	history  map[string][]domain.ProgressSnapshot
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{
		results:  map[string]domain.Stage{},
		progress: map[string]domain.ProgressSnapshot{},
		history:  map[string][]domain.ProgressSnapshot{},
	}
}

func (m *memoryRecorder) RecordStart(ctx context.Context, runID string, input domain.PipelineInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, runID)
	return nil
}

func (m *memoryRecorder) RecordProgress(ctx context.Context, runID string, snap domain.ProgressSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[runID] = snap
	m.history[runID] = append(m.history[runID], snap)
	return nil
}

func (m *memoryRecorder) RecordResult(ctx context.Context, runID string, stage domain.Stage, result *domain.PipelineResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[runID] = stage
	return nil
}

func newTestManager(t *testing.T, cc *fakeCompute, recorder RunRecorder) *Manager {
	t.Helper()
	store := objstore.NewLocalStore(t.TempDir())
	return NewManager(store, cc, TestPolicies(), recorder, nil, logger.NewNop())
}

func TestManagerStartRunsToCompletion(t *testing.T) {
	recorder := newMemoryRecorder()
	m := newTestManager(t, newFakeCompute(), recorder)

	runID, err := m.Start(context.Background(), singleSectionInput("venue-1"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.HasPrefix(runID, "venue-pipeline-venue-1-") {
		t.Fatalf("run id %q lacks the venue-pipeline prefix", runID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Wait(ctx, runID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	result, err := m.Result(runID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if !result.Success {
		t.Fatalf("run failed: %s", result.ErrorMessage)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.starts) != 1 || recorder.starts[0] != runID {
		t.Fatalf("recorded starts = %v", recorder.starts)
	}
	if recorder.results[runID] != domain.StageCompleted {
		t.Fatalf("recorded terminal stage = %s", recorder.results[runID])
	}
}

func TestManagerCheckpointsProgressPerStage(t *testing.T) {
	recorder := newMemoryRecorder()
	m := newTestManager(t, newFakeCompute(), recorder)

	runID, err := m.Start(context.Background(), singleSectionInput("venue-1"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Wait(ctx, runID); err != nil {
		t.Fatal(err)
	}

	recorder.mu.Lock()
	history := append([]domain.ProgressSnapshot(nil), recorder.history[runID]...)
	recorder.mu.Unlock()

	seen := map[domain.Stage]bool{}
	prev := -1
	for _, snap := range history {
		if snap.Stage.Order() < prev {
			t.Fatalf("checkpoint stages went backward: %v", history)
		}
		prev = snap.Stage.Order()
		seen[snap.Stage] = true
	}
	for _, stage := range []domain.Stage{
		domain.StageGeneratingSeats,
		domain.StageBuildingModel,
		domain.StageRenderingDepths,
		domain.StageGeneratingImages,
		domain.StageCompleted,
	} {
		if !seen[stage] {
			t.Fatalf("no checkpoint recorded for stage %s (got %v)", stage, history)
		}
	}
}

func TestManagerRejectsInvalidInput(t *testing.T) {
	m := newTestManager(t, newFakeCompute(), nil)
	_, err := m.Start(context.Background(), domain.PipelineInput{VenueID: "v"})
	if !errkind.Is(err, errkind.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestManagerSerializesRunsPerVenue(t *testing.T) {
	fc := newFakeCompute()
	block := make(chan struct{})
	var once sync.Once
	fc.onImage = func(string) {
		once.Do(func() { <-block })
	}
	m := newTestManager(t, fc, nil)

	ctx := context.Background()
	first, err := m.Start(ctx, singleSectionInput("venue-1"))
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	// Second run on the same venue while the first is in flight.
	_, err = m.Start(ctx, singleSectionInput("venue-1"))
	if !errors.Is(err, ErrVenueBusy) {
		t.Fatalf("expected ErrVenueBusy, got %v", err)
	}

	// A different venue is unaffected.
	if _, err := m.Start(ctx, singleSectionInput("venue-2")); err != nil {
		t.Fatalf("other venue rejected: %v", err)
	}

	close(block)
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.Wait(wctx, first); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// Venue frees up once the run finishes.
	if _, err := m.Start(ctx, singleSectionInput("venue-1")); err != nil {
		t.Fatalf("venue still busy after completion: %v", err)
	}
}

func TestManagerResultBeforeTerminal(t *testing.T) {
	fc := newFakeCompute()
	block := make(chan struct{})
	var once sync.Once
	fc.onImage = func(string) {
		once.Do(func() { <-block })
	}
	m := newTestManager(t, fc, nil)

	runID, err := m.Start(context.Background(), singleSectionInput("venue-1"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Result(runID); !errors.Is(err, ErrRunNotFinished) {
		t.Fatalf("expected ErrRunNotFinished, got %v", err)
	}
	close(block)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Wait(ctx, runID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Result(runID); err != nil {
		t.Fatalf("Result after terminal: %v", err)
	}
}

func TestManagerCancelUnknownRun(t *testing.T) {
	m := newTestManager(t, newFakeCompute(), nil)
	err := m.Cancel(context.Background(), "no-such-run")
	if !errkind.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := m.Progress("no-such-run"); !errkind.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestManagerCancelIsIdempotent(t *testing.T) {
	fc := newFakeCompute()
	block := make(chan struct{})
	var once sync.Once
	fc.onImage = func(string) {
		once.Do(func() { <-block })
	}
	m := newTestManager(t, fc, nil)

	ctx := context.Background()
	runID, err := m.Start(ctx, tenAnchorInput("venue-1"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := m.Cancel(ctx, runID); err != nil {
			t.Fatalf("Cancel #%d: %v", i+1, err)
		}
	}
	close(block)

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.Wait(wctx, runID); err != nil {
		t.Fatal(err)
	}
	snap, err := m.Progress(runID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Stage != domain.StageCancelled {
		t.Fatalf("stage = %s, want cancelled", snap.Stage)
	}
	result, err := m.Result(runID)
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("cancelled run reported success")
	}
}
