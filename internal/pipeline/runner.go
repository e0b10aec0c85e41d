// Package pipeline drives a venue seat-view generation run through its
// stages: seat generation, model building, depth rendering, and image
// synthesis. One Runner owns one run; everything it needs is injected.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sullysaurus/venues/internal/compute"
	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/pipeline/seatgen"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
	"github.com/sullysaurus/venues/internal/platform/objstore"
)

type Runner struct {
	runID    string
	input    domain.PipelineInput
	store    objstore.Store
	compute  compute.Client
	tracker  *Tracker
	policies Policies
	log      *logger.Logger

	// observer receives a snapshot after every stage transition. The
	// manager points it at the run recorder so run rows checkpoint while
	// the run is still in flight.
	observer func(domain.ProgressSnapshot)

	cancelled atomic.Bool
}

func NewRunner(runID string, input domain.PipelineInput, store objstore.Store, cc compute.Client, policies Policies, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{
		runID:    runID,
		input:    input,
		store:    store,
		compute:  cc,
		tracker:  NewTracker(),
		policies: policies,
		log:      log.With("run_id", runID, "venue_id", input.VenueID),
	}
}

// Query returns a wait-free snapshot of the run's progress.
func (r *Runner) Query() domain.ProgressSnapshot { return r.tracker.Snapshot() }

// OnProgress registers a stage-transition observer. Set before Run starts;
// the callback runs on the runner's goroutine.
func (r *Runner) OnProgress(fn func(domain.ProgressSnapshot)) { r.observer = fn }

func (r *Runner) setStage(stage domain.Stage, step int, message string) {
	r.tracker.SetStage(stage, step, message)
	if r.observer != nil {
		r.observer(r.tracker.Snapshot())
	}
}

// Cancel requests cooperative cancellation. Idempotent; observed between
// stages and at batch boundaries. In-flight remote calls finish first.
func (r *Runner) Cancel() { r.cancelled.Store(true) }

func (r *Runner) cancelRequested() bool { return r.cancelled.Load() }

// Run executes the full state machine. A result is always returned; errors
// are captured in it rather than propagated.
func (r *Runner) Run(ctx context.Context) *domain.PipelineResult {
	started := time.Now()
	result := &domain.PipelineResult{
		RunID:         r.runID,
		VenueID:       r.input.VenueID,
		CostBreakdown: map[string]float64{},
	}
	defer func() {
		snap := r.tracker.Snapshot()
		result.DepthMapsRendered = snap.DepthMapsRendered
		result.ImagesGenerated = snap.ImagesGenerated
		result.TotalCost = snap.ActualCost
		result.DurationSeconds = time.Since(started).Seconds()
	}()

	// Stage 1: seat generation.
	r.setStage(domain.StageGeneratingSeats, 1, "Generating seat coordinates")
	sections := r.input.FilteredSections()
	allSeats := seatgen.GenerateAllSeats(sections)
	anchorSeats := seatgen.SampleAnchorSeats(sections, allSeats)
	renderSet := seatgen.ResolveRenderSet(r.input.CustomSeats, allSeats, anchorSeats)
	result.AllSeatsCount = len(allSeats)
	result.AnchorSeatsCount = len(anchorSeats)

	r.tracker.SetEstimatedCost(r.estimateCost(len(renderSet)))

	if err := r.persistSeatArtifacts(ctx, allSeats, anchorSeats); err != nil {
		return r.fail(result, "saving seat artifacts", err)
	}
	r.tracker.AddSeats(len(allSeats))
	r.tracker.AddCost(domain.CostSeats)
	result.CostBreakdown["seats"] = domain.CostSeats

	if r.cancelRequested() {
		return r.cancel(result)
	}

	// Stage 2: model building.
	r.setStage(domain.StageBuildingModel, 2, "Building 3D venue model")
	blend, built, err := r.buildModel(ctx, sections)
	if err != nil {
		return r.fail(result, "building venue model", err)
	}
	if built {
		r.tracker.AddCost(domain.CostModelBuild)
		result.CostBreakdown["model_build"] = domain.CostModelBuild
	}
	if r.input.StopAfterModel {
		return r.complete(result, "Stopped after model build")
	}
	if r.cancelRequested() {
		return r.cancel(result)
	}

	// Stage 3: depth rendering.
	r.setStage(domain.StageRenderingDepths, 3, "Rendering depth maps")
	depthMaps, depthPaths, err := r.renderDepths(ctx, blend, renderSet)
	result.DepthMapPaths = depthPaths
	if err != nil {
		if errkind.Is(err, errkind.Cancelled) {
			return r.cancel(result)
		}
		return r.fail(result, "rendering depth maps", err)
	}
	if rendered := r.tracker.Snapshot().DepthMapsRendered; rendered > 0 {
		cost := float64(rendered) * domain.CostDepthRenderPerSeat
		result.CostBreakdown["depth_render"] = cost
	}
	if r.input.StopAfterDepths || r.input.SkipAIGeneration {
		return r.complete(result, "Stopped before image synthesis")
	}
	if r.cancelRequested() {
		return r.cancel(result)
	}

	// Stage 4: image synthesis.
	r.setStage(domain.StageGeneratingImages, 4, "Generating seat view images")
	existing := r.probeFinalImages(ctx)
	paths, failed := r.synthesizeImages(ctx, depthMaps, existing)
	r.tracker.AddFailedItems(failed...)
	result.FailedSeats = failed
	result.ImagePaths = sortedValues(paths)
	if generated := r.tracker.Snapshot().ImagesGenerated; generated > 0 {
		result.CostBreakdown["image_synthesis"] = float64(generated) * domain.CostPerImage(r.input.Model)
	}

	if r.cancelRequested() {
		return r.cancel(result)
	}
	return r.complete(result, "Pipeline completed")
}

func (r *Runner) persistSeatArtifacts(ctx context.Context, allSeats, anchorSeats []domain.Seat) error {
	seatsDoc, err := seatgen.EncodeSeatsArtifact(r.input.VenueID, allSeats)
	if err != nil {
		return errkind.Wrap(errkind.NonRetryable, "pipeline.encode_seats", err)
	}
	anchorsDoc, err := seatgen.EncodeAnchorsArtifact(anchorSeats)
	if err != nil {
		return errkind.Wrap(errkind.NonRetryable, "pipeline.encode_anchors", err)
	}
	if err := Do(ctx, r.log, r.policies.Fast, "pipeline.persist_seats", func(ctx context.Context) error {
		_, putErr := r.store.Put(ctx, objstore.SeatsKey(r.input.VenueID), seatsDoc)
		return putErr
	}); err != nil {
		return err
	}
	return Do(ctx, r.log, r.policies.Fast, "pipeline.persist_anchors", func(ctx context.Context) error {
		_, putErr := r.store.Put(ctx, objstore.AnchorSeatsKey(r.input.VenueID), anchorsDoc)
		return putErr
	})
}

// buildModel returns the blend bytes for the run, either loaded from a
// prior artifact (skip_model_build) or freshly built. The bool reports
// whether a remote build happened.
func (r *Runner) buildModel(ctx context.Context, sections map[string]domain.SectionSpec) ([]byte, bool, error) {
	if r.input.SkipModelBuild {
		if blend, ok := r.probeModel(ctx); ok {
			r.log.Info("reusing cached venue model", "bytes", len(blend))
			r.tracker.SetMessage("Loaded cached venue model")
			return blend, false, nil
		}
		r.log.Info("no cached venue model found, building")
	}

	specs := make([]domain.SectionSpec, 0, len(sections))
	ids := make([]string, 0, len(sections))
	for id := range sections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		specs = append(specs, sections[id])
	}

	var model *compute.ModelResult
	err := Do(ctx, r.log, r.policies.Model, "pipeline.build_model", func(ctx context.Context) error {
		var buildErr error
		model, buildErr = r.compute.BuildVenueModel(ctx, r.input.VenueID, specs, r.input.Surface)
		return buildErr
	})
	if err != nil {
		return nil, false, err
	}

	if err := Do(ctx, r.log, r.policies.Fast, "pipeline.persist_model", func(ctx context.Context) error {
		_, putErr := r.store.Put(ctx, objstore.ModelKey(r.input.VenueID), model.BlendFile)
		return putErr
	}); err != nil {
		return nil, false, err
	}
	if len(model.Preview) > 0 {
		if err := Do(ctx, r.log, r.policies.Fast, "pipeline.persist_preview", func(ctx context.Context) error {
			_, putErr := r.store.Put(ctx, objstore.PreviewKey(r.input.VenueID), model.Preview)
			return putErr
		}); err != nil {
			return nil, false, err
		}
	}
	return model.BlendFile, true, nil
}

// renderDepths produces depth bytes for every seat in the render set,
// reusing persisted maps when skip_depth_render is set and rendering only
// the missing subset. A Cancelled error means the stage stopped at a batch
// boundary with partial artifacts persisted.
func (r *Runner) renderDepths(ctx context.Context, blend []byte, renderSet []domain.Seat) (map[string][]byte, []string, error) {
	depthMaps := map[string][]byte{}
	toRender := renderSet
	if r.input.SkipDepthRender {
		present, missing := r.probeDepths(ctx, renderSet)
		for seatID, data := range present {
			depthMaps[seatID] = data
		}
		toRender = missing
		if len(present) > 0 {
			r.tracker.SetMessage(fmt.Sprintf("Loaded %d cached depth maps", len(present)))
		}
	}

	batchSize := r.input.DepthBatchSize
	if batchSize < 1 {
		batchSize = domain.DefaultDepthBatchSize
	}

	var paths []string
	for seatID := range depthMaps {
		paths = append(paths, objstore.DepthKey(r.input.VenueID, seatID))
	}

	for start := 0; start < len(toRender); start += batchSize {
		if r.cancelRequested() {
			return depthMaps, paths, errkind.New(errkind.Cancelled, "pipeline.render_depths", "cancelled at batch boundary")
		}
		end := start + batchSize
		if end > len(toRender) {
			end = len(toRender)
		}
		batch := toRender[start:end]
		r.tracker.SetCurrentItem(batch[0].ID)

		var rendered map[string][]byte
		err := Do(ctx, r.log, r.policies.Model, "pipeline.render_depth_batch", func(ctx context.Context) error {
			var renderErr error
			rendered, renderErr = r.compute.RenderDepthMaps(ctx, blend, batch)
			return renderErr
		})
		if err != nil {
			return depthMaps, paths, err
		}

		persisted := 0
		for _, seat := range batch {
			data, ok := rendered[seat.ID]
			if !ok || len(data) == 0 {
				return depthMaps, paths, errkind.New(errkind.Transient, "pipeline.render_depths",
					"compute returned no depth map for seat %s", seat.ID)
			}
			key := objstore.DepthKey(r.input.VenueID, seat.ID)
			var path string
			if err := Do(ctx, r.log, r.policies.Fast, "pipeline.persist_depth", func(ctx context.Context) error {
				var putErr error
				path, putErr = r.store.Put(ctx, key, data)
				return putErr
			}); err != nil {
				return depthMaps, paths, err
			}
			depthMaps[seat.ID] = data
			paths = append(paths, path)
			persisted++
		}
		r.tracker.AddDepthMaps(persisted)
		r.tracker.AddCost(float64(persisted) * domain.CostDepthRenderPerSeat)
	}

	sort.Strings(paths)
	return depthMaps, paths, nil
}

func (r *Runner) estimateCost(renderCount int) float64 {
	estimate := domain.CostSeats + domain.CostModelBuild
	if !r.input.StopAfterModel {
		estimate += float64(renderCount) * domain.CostDepthRenderPerSeat
		if !r.input.StopAfterDepths && !r.input.SkipAIGeneration {
			estimate += float64(renderCount) * domain.CostPerImage(r.input.Model)
		}
	}
	return estimate
}

func (r *Runner) complete(result *domain.PipelineResult, message string) *domain.PipelineResult {
	r.setStage(domain.StageCompleted, totalSteps, message)
	result.Success = true
	r.log.Info("pipeline run completed",
		"images", r.tracker.Snapshot().ImagesGenerated,
		"depth_maps", r.tracker.Snapshot().DepthMapsRendered,
	)
	return result
}

func (r *Runner) cancel(result *domain.PipelineResult) *domain.PipelineResult {
	r.setStage(domain.StageCancelled, 0, "Pipeline cancelled")
	result.Success = false
	result.ErrorMessage = "pipeline cancelled"
	r.log.Info("pipeline run cancelled")
	return result
}

func (r *Runner) fail(result *domain.PipelineResult, what string, err error) *domain.PipelineResult {
	if errkind.Is(err, errkind.Cancelled) {
		return r.cancel(result)
	}
	msg := fmt.Sprintf("%s: %v", what, err)
	r.setStage(domain.StageFailed, 0, msg)
	result.Success = false
	result.ErrorMessage = msg
	r.log.Error("pipeline run failed", "stage_op", what, "error", err)
	return result
}

func sortedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(m))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
