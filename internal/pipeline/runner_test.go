package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sullysaurus/venues/internal/compute"
	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
	"github.com/sullysaurus/venues/internal/platform/objstore"
)

// fakeCompute counts calls and lets tests script per-seat image errors and
// an after-image hook for cancellation timing.
type fakeCompute struct {
	mu          sync.Mutex
	buildCalls  int
	renderCalls int
	imageCalls  map[string]int

	imageErrs map[string][]error
	onImage   func(seatID string)
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{imageCalls: map[string]int{}, imageErrs: map[string][]error{}}
}

func (f *fakeCompute) BuildVenueModel(ctx context.Context, venueID string, sections []domain.SectionSpec, surface domain.SurfaceConfig) (*compute.ModelResult, error) {
	f.mu.Lock()
	f.buildCalls++
	f.mu.Unlock()
	return &compute.ModelResult{BlendFile: []byte("blend-" + venueID), Preview: []byte("preview")}, nil
}

func (f *fakeCompute) RenderDepthMaps(ctx context.Context, blend []byte, seats []domain.Seat) (map[string][]byte, error) {
	f.mu.Lock()
	f.renderCalls++
	f.mu.Unlock()
	out := map[string][]byte{}
	for _, s := range seats {
		out[s.ID] = []byte("depth-" + s.ID)
	}
	return out, nil
}

func (f *fakeCompute) GenerateImage(ctx context.Context, req compute.ImageRequest) ([]byte, error) {
	f.mu.Lock()
	f.imageCalls[req.SeatID]++
	var err error
	if errs := f.imageErrs[req.SeatID]; len(errs) > 0 {
		err = errs[0]
		f.imageErrs[req.SeatID] = errs[1:]
	}
	hook := f.onImage
	f.mu.Unlock()
	if hook != nil {
		hook(req.SeatID)
	}
	if err != nil {
		return nil, err
	}
	return []byte("image-" + req.SeatID), nil
}

func (f *fakeCompute) totalImageCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.imageCalls {
		n += c
	}
	return n
}

func singleSectionInput(venueID string) domain.PipelineInput {
	in := domain.PipelineInput{
		VenueID: venueID,
		Sections: map[string]domain.SectionSpec{
			"101": {Tier: "lower", Angle: 0, InnerRadius: 18, Rows: 21, RowDepth: 0.85, RowRise: 0.4, BaseHeight: 2.0},
		},
		Surface: domain.SurfaceConfig{SurfaceType: "rink"},
	}
	in.ApplyDefaults()
	return in
}

func newTestRunner(t *testing.T, input domain.PipelineInput, cc compute.Client) (*Runner, objstore.Store) {
	t.Helper()
	store := objstore.NewLocalStore(t.TempDir())
	return NewRunner("run-1", input, store, cc, TestPolicies(), logger.NewNop()), store
}

func TestRunHappyPathSingleSection(t *testing.T) {
	fc := newFakeCompute()
	r, store := newTestRunner(t, singleSectionInput("venue-1"), fc)

	result := r.Run(context.Background())
	if !result.Success {
		t.Fatalf("run failed: %s", result.ErrorMessage)
	}
	if result.AllSeatsCount != 3 {
		t.Fatalf("all_seats_count = %d, want 3", result.AllSeatsCount)
	}
	// One lower-tier section: front + back anchors.
	if result.AnchorSeatsCount != 2 {
		t.Fatalf("anchor_seats_count = %d, want 2", result.AnchorSeatsCount)
	}
	if result.DepthMapsRendered != 2 || result.ImagesGenerated != 2 {
		t.Fatalf("rendered=%d images=%d, want 2/2", result.DepthMapsRendered, result.ImagesGenerated)
	}

	snap := r.Query()
	if snap.Stage != domain.StageCompleted {
		t.Fatalf("stage = %s, want completed", snap.Stage)
	}

	// Artifact-counter agreement.
	ctx := context.Background()
	finals, err := store.List(ctx, objstore.FinalPrefix("venue-1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(finals) != result.ImagesGenerated {
		t.Fatalf("%d final artifacts for %d counted images", len(finals), result.ImagesGenerated)
	}
	depths, err := store.List(ctx, objstore.DepthPrefix("venue-1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(depths) != result.DepthMapsRendered {
		t.Fatalf("%d depth artifacts for %d counted renders", len(depths), result.DepthMapsRendered)
	}
	if _, err := store.Get(ctx, objstore.SeatsKey("venue-1")); err != nil {
		t.Fatalf("seats.json missing: %v", err)
	}
	if _, err := store.Get(ctx, objstore.AnchorSeatsKey("venue-1")); err != nil {
		t.Fatalf("anchor_seats.json missing: %v", err)
	}

	wantCost := domain.CostSeats + domain.CostModelBuild + 2*domain.CostDepthRenderPerSeat + 2*domain.CostPerImage("flux")
	if diff := result.TotalCost - wantCost; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("total_cost = %v, want %v", result.TotalCost, wantCost)
	}
}

func TestRunStopAfterModel(t *testing.T) {
	fc := newFakeCompute()
	input := singleSectionInput("venue-2")
	input.StopAfterModel = true
	r, store := newTestRunner(t, input, fc)

	result := r.Run(context.Background())
	if !result.Success {
		t.Fatalf("run failed: %s", result.ErrorMessage)
	}
	if result.DepthMapsRendered != 0 || result.ImagesGenerated != 0 {
		t.Fatalf("early stop still produced work: %+v", result)
	}
	if r.Query().Stage != domain.StageCompleted {
		t.Fatalf("stage = %s, want completed", r.Query().Stage)
	}
	ctx := context.Background()
	if _, err := store.Get(ctx, objstore.ModelKey("venue-2")); err != nil {
		t.Fatalf("model.blend missing: %v", err)
	}
	if _, err := store.Get(ctx, objstore.PreviewKey("venue-2")); err != nil {
		t.Fatalf("preview.png missing: %v", err)
	}
	if fc.renderCalls != 0 || fc.totalImageCalls() != 0 {
		t.Fatal("remote calls made past the model stage")
	}
}

func TestRunStopAfterDepths(t *testing.T) {
	fc := newFakeCompute()
	input := singleSectionInput("venue-3")
	input.StopAfterDepths = true
	r, store := newTestRunner(t, input, fc)

	result := r.Run(context.Background())
	if !result.Success {
		t.Fatalf("run failed: %s", result.ErrorMessage)
	}
	if result.DepthMapsRendered != 2 || result.ImagesGenerated != 0 {
		t.Fatalf("rendered=%d images=%d, want 2/0", result.DepthMapsRendered, result.ImagesGenerated)
	}
	depths, err := store.List(context.Background(), objstore.DepthPrefix("venue-3"))
	if err != nil {
		t.Fatal(err)
	}
	if len(depths) != 2 {
		t.Fatalf("%d depth artifacts, want 2", len(depths))
	}
	if fc.totalImageCalls() != 0 {
		t.Fatal("image synthesis ran despite stop_after_depths")
	}
}

func tenAnchorInput(venueID string) domain.PipelineInput {
	sections := map[string]domain.SectionSpec{}
	// Five lower sections (sampled to 3) and two mid sections: 10 anchors.
	for _, id := range []string{"101", "102", "103", "104", "105"} {
		sections[id] = domain.SectionSpec{Tier: "lower", Angle: 15, InnerRadius: 18, Rows: 10, RowDepth: 0.8, RowRise: 0.4, BaseHeight: 2}
	}
	for _, id := range []string{"201", "202"} {
		sections[id] = domain.SectionSpec{Tier: "mid", Angle: -40, InnerRadius: 30, Rows: 8, RowDepth: 0.8, RowRise: 0.5, BaseHeight: 8}
	}
	in := domain.PipelineInput{
		VenueID:  venueID,
		Sections: sections,
		Surface:  domain.SurfaceConfig{SurfaceType: "court"},
	}
	in.ApplyDefaults()
	return in
}

func TestRunCancelBetweenImageBatches(t *testing.T) {
	fc := newFakeCompute()
	input := tenAnchorInput("venue-4")
	input.ParallelImageBatchSize = 5
	r, store := newTestRunner(t, input, fc)

	var once sync.Once
	seen := 0
	var mu sync.Mutex
	fc.onImage = func(string) {
		mu.Lock()
		seen++
		if seen >= 5 {
			once.Do(r.Cancel)
		}
		mu.Unlock()
	}

	result := r.Run(context.Background())
	if result.Success {
		t.Fatal("cancelled run reported success")
	}
	if r.Query().Stage != domain.StageCancelled {
		t.Fatalf("stage = %s, want cancelled", r.Query().Stage)
	}
	if result.ImagesGenerated != 5 {
		t.Fatalf("images_generated = %d, want 5", result.ImagesGenerated)
	}
	finals, err := store.List(context.Background(), objstore.FinalPrefix("venue-4"))
	if err != nil {
		t.Fatal(err)
	}
	if len(finals) != 5 {
		t.Fatalf("%d final artifacts after cancel, want 5", len(finals))
	}
}

func TestRunRateLimitThenRecovery(t *testing.T) {
	fc := newFakeCompute()
	input := singleSectionInput("venue-5")
	input.CustomSeats = []string{"101_Front_1"}
	r, _ := newTestRunner(t, input, fc)

	fc.imageErrs["101_Front_1"] = []error{
		errkind.New(errkind.RateLimited, "test", "429"),
		errkind.New(errkind.RateLimited, "test", "429"),
	}

	result := r.Run(context.Background())
	if !result.Success {
		t.Fatalf("run failed: %s", result.ErrorMessage)
	}
	if result.ImagesGenerated != 1 || len(result.FailedSeats) != 0 {
		t.Fatalf("images=%d failed=%v, want 1 and none", result.ImagesGenerated, result.FailedSeats)
	}
	if calls := fc.imageCalls["101_Front_1"]; calls != 3 || calls > 5 {
		t.Fatalf("image calls = %d, want 3 (two rate limits then success)", calls)
	}
	wantImageCost := domain.CostPerImage(input.Model)
	if got := result.CostBreakdown["image_synthesis"]; got != wantImageCost {
		t.Fatalf("image cost = %v, want single increment %v", got, wantImageCost)
	}
}

func TestRunPerSeatFailureIsolation(t *testing.T) {
	fc := newFakeCompute()
	input := tenAnchorInput("venue-6")
	r, _ := newTestRunner(t, input, fc)

	// One seat exhausts all AI retries; the rest succeed.
	authlessErrs := make([]error, 6)
	for i := range authlessErrs {
		authlessErrs[i] = errkind.New(errkind.Transient, "test", "boom")
	}
	fc.imageErrs["101_Front_1"] = authlessErrs

	result := r.Run(context.Background())
	if !result.Success {
		t.Fatalf("per-seat failure failed the run: %s", result.ErrorMessage)
	}
	if len(result.FailedSeats) != 1 || result.FailedSeats[0] != "101_Front_1" {
		t.Fatalf("failed_seats = %v, want [101_Front_1]", result.FailedSeats)
	}
	if result.ImagesGenerated+len(result.FailedSeats) != 10 {
		t.Fatalf("images(%d) + failed(%d) != render set size 10", result.ImagesGenerated, len(result.FailedSeats))
	}
	snap := r.Query()
	if len(snap.FailedItems) != 1 {
		t.Fatalf("failed_items = %v", snap.FailedItems)
	}
}

func TestRunNonRetryableModelErrorFailsRun(t *testing.T) {
	fc := &failingBuildCompute{err: errkind.New(errkind.NonRetryable, "test", "bad surface config")}
	r, _ := newTestRunner(t, singleSectionInput("venue-7"), fc)

	result := r.Run(context.Background())
	if result.Success {
		t.Fatal("run succeeded despite non-retryable build error")
	}
	if r.Query().Stage != domain.StageFailed {
		t.Fatalf("stage = %s, want failed", r.Query().Stage)
	}
	if result.ErrorMessage == "" {
		t.Fatal("failed run carries no error message")
	}
	if fc.calls != 1 {
		t.Fatalf("build attempted %d times, want 1 (no retry)", fc.calls)
	}
}

type failingBuildCompute struct {
	fakeCompute
	calls int
	err   error
}

func (f *failingBuildCompute) BuildVenueModel(ctx context.Context, venueID string, sections []domain.SectionSpec, surface domain.SurfaceConfig) (*compute.ModelResult, error) {
	f.calls++
	return nil, f.err
}

func TestRunResumeSkipsBuildAndDepths(t *testing.T) {
	dir := t.TempDir()
	store := objstore.NewLocalStore(dir)

	first := newFakeCompute()
	input := singleSectionInput("venue-8")
	r1 := NewRunner("run-a", input, store, first, TestPolicies(), logger.NewNop())
	res1 := r1.Run(context.Background())
	if !res1.Success {
		t.Fatalf("first run failed: %s", res1.ErrorMessage)
	}

	second := newFakeCompute()
	input2 := singleSectionInput("venue-8")
	input2.SkipModelBuild = true
	input2.SkipDepthRender = true
	r2 := NewRunner("run-b", input2, store, second, TestPolicies(), logger.NewNop())
	res2 := r2.Run(context.Background())
	if !res2.Success {
		t.Fatalf("resume run failed: %s", res2.ErrorMessage)
	}

	if second.buildCalls != 0 {
		t.Fatalf("resume made %d build calls, want 0", second.buildCalls)
	}
	if second.renderCalls != 0 {
		t.Fatalf("resume made %d render calls, want 0", second.renderCalls)
	}
	if second.totalImageCalls() != 0 {
		t.Fatalf("resume made %d image calls despite complete final set", second.totalImageCalls())
	}
	if res2.ImagesGenerated != 0 {
		t.Fatalf("resume images_generated = %d, want 0", res2.ImagesGenerated)
	}
	if fmt.Sprint(res2.ImagePaths) != fmt.Sprint(res1.ImagePaths) {
		// Paths on resume are store keys; both runs must cover the same set.
		if len(res2.ImagePaths) != len(res1.ImagePaths) {
			t.Fatalf("resume image set differs: %v vs %v", res2.ImagePaths, res1.ImagePaths)
		}
	}
	if r2.Query().Stage != domain.StageCompleted {
		t.Fatalf("resume stage = %s, want completed", r2.Query().Stage)
	}
}

func TestRunSkipDepthRenderRendersMissingSubset(t *testing.T) {
	store := objstore.NewLocalStore(t.TempDir())
	ctx := context.Background()

	// Pre-seed one of the two anchor depth maps.
	if _, err := store.Put(ctx, objstore.DepthKey("venue-9", "101_Front_1"), []byte("cached")); err != nil {
		t.Fatal(err)
	}

	fc := newFakeCompute()
	input := singleSectionInput("venue-9")
	input.SkipDepthRender = true
	input.SkipAIGeneration = true
	r := NewRunner("run-1", input, store, fc, TestPolicies(), logger.NewNop())

	result := r.Run(ctx)
	if !result.Success {
		t.Fatalf("run failed: %s", result.ErrorMessage)
	}
	// Only the missing back seat is rendered.
	if fc.renderCalls != 1 {
		t.Fatalf("render calls = %d, want 1", fc.renderCalls)
	}
	if result.DepthMapsRendered != 1 {
		t.Fatalf("depth_maps_rendered = %d, want 1 newly rendered", result.DepthMapsRendered)
	}
	depths, err := store.List(ctx, objstore.DepthPrefix("venue-9"))
	if err != nil {
		t.Fatal(err)
	}
	if len(depths) != 2 {
		t.Fatalf("store holds %d depth maps, want full set 2", len(depths))
	}
}

func TestProgressMonotonic(t *testing.T) {
	fc := newFakeCompute()
	r, _ := newTestRunner(t, tenAnchorInput("venue-10"), fc)

	type obs struct {
		order  int
		images int
		depths int
	}
	var observations []obs
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := r.Query()
			observations = append(observations, obs{order: s.Stage.Order(), images: s.ImagesGenerated, depths: s.DepthMapsRendered})
		}
	}()

	if res := r.Run(context.Background()); !res.Success {
		t.Fatalf("run failed: %s", res.ErrorMessage)
	}
	close(stop)
	<-done

	prev := obs{}
	for _, o := range observations {
		if o.order < prev.order || o.images < prev.images || o.depths < prev.depths {
			t.Fatalf("progress regressed: %+v after %+v", o, prev)
		}
		prev = o
	}
}

func TestSeatArtifactDeterminismAcrossRuns(t *testing.T) {
	input := singleSectionInput("venue-11")
	fcA, fcB := newFakeCompute(), newFakeCompute()

	storeA := objstore.NewLocalStore(t.TempDir())
	storeB := objstore.NewLocalStore(t.TempDir())
	NewRunner("run-a", input, storeA, fcA, TestPolicies(), logger.NewNop()).Run(context.Background())
	NewRunner("run-b", input, storeB, fcB, TestPolicies(), logger.NewNop()).Run(context.Background())

	ctx := context.Background()
	a, err := storeA.Get(ctx, objstore.SeatsKey("venue-11"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := storeB.Get(ctx, objstore.SeatsKey("venue-11"))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatal("seats.json differs between identical runs")
	}
}
