package pipeline

import (
	"sync"

	"github.com/sullysaurus/venues/internal/domain"
)

// Tracker owns a run's progress. All mutation happens under one mutex on
// the runner's path; Snapshot hands out a clone so readers never block the
// runner for more than a field copy.
type Tracker struct {
	mu sync.Mutex
	p  domain.ProgressSnapshot
}

const totalSteps = 4

func NewTracker() *Tracker {
	return &Tracker{
		p: domain.ProgressSnapshot{
			Stage:       domain.StagePending,
			TotalSteps:  totalSteps,
			FailedItems: []string{},
		},
	}
}

// Snapshot returns a copy safe to hand to external callers.
func (t *Tracker) Snapshot() domain.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.p
	snap.FailedItems = append([]string(nil), t.p.FailedItems...)
	return snap
}

// SetStage advances the stage. Backward transitions are ignored so the
// forward-only invariant holds even on buggy callers.
func (t *Tracker) SetStage(stage domain.Stage, step int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stage.Order() < t.p.Stage.Order() {
		return
	}
	t.p.Stage = stage
	if step > 0 {
		t.p.CurrentStep = step
	}
	if message != "" {
		t.p.Message = message
	}
	t.p.CurrentItem = ""
}

func (t *Tracker) SetMessage(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Message = message
}

func (t *Tracker) SetCurrentItem(item string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.CurrentItem = item
}

func (t *Tracker) SetEstimatedCost(cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.EstimatedCost = cost
}

func (t *Tracker) AddSeats(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.SeatsGenerated += n
}

func (t *Tracker) AddDepthMaps(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.DepthMapsRendered += n
}

func (t *Tracker) AddImages(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.ImagesGenerated += n
}

func (t *Tracker) AddCost(amount float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.ActualCost += amount
}

func (t *Tracker) AddFailedItems(seatIDs ...string) {
	if len(seatIDs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.FailedItems = append(t.p.FailedItems, seatIDs...)
}
