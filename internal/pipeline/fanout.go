package pipeline

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sullysaurus/venues/internal/compute"
	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/platform/objstore"
)

type synthesisOutcome struct {
	seatID string
	image  []byte
	err    error
}

// synthesizeImages fans image synthesis out over the depth maps not already
// covered by existing final images. Batches run in issue order; tasks inside
// a batch run concurrently up to ParallelImageBatchSize. Per-seat failures
// are collected, never escalated: the caller decides what a failed seat
// means for the run.
//
// Returned paths include the pre-existing ones so artifact accounting stays
// complete on resume.
func (r *Runner) synthesizeImages(
	ctx context.Context,
	depthMaps map[string][]byte,
	existing map[string]string,
) (map[string]string, []string) {
	paths := make(map[string]string, len(depthMaps))
	for seatID, p := range existing {
		paths[seatID] = p
	}

	var pending []string
	for seatID := range depthMaps {
		if _, ok := existing[seatID]; !ok {
			pending = append(pending, seatID)
		}
	}
	if len(pending) == 0 {
		return paths, nil
	}
	sort.Strings(pending)

	batchSize := r.input.ParallelImageBatchSize
	if batchSize < 1 {
		batchSize = domain.DefaultParallelImageBatchSize
	}
	perImageCost := domain.CostPerImage(r.input.Model)

	var failed []string
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		var mu sync.Mutex
		staged := make(map[string][]byte, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for _, seatID := range batch {
			g.Go(func() error {
				r.tracker.SetCurrentItem(seatID)
				var img []byte
				err := Do(gctx, r.log, r.policies.AI, "pipeline.generate_image", func(ctx context.Context) error {
					var genErr error
					img, genErr = r.compute.GenerateImage(ctx, compute.ImageRequest{
						SeatID:         seatID,
						DepthMap:       depthMaps[seatID],
						Prompt:         r.input.Prompt,
						Model:          r.input.Model,
						Strength:       r.input.Strength,
						IPAdapterScale: r.input.IPAdapterScale,
						ReferenceImage: r.input.ReferenceImage,
					})
					return genErr
				})
				mu.Lock()
				defer mu.Unlock()
				if err != nil || len(img) == 0 {
					r.log.Warn("image synthesis failed for seat", "seat", seatID, "error", err)
					failed = append(failed, seatID)
					return nil
				}
				staged[seatID] = img
				return nil
			})
		}
		_ = g.Wait()

		// The store writes one object per call, so the batch's successes
		// persist individually, in sorted order, before counters move; a
		// query never reports images that are not in the store.
		successes := 0
		stagedIDs := make([]string, 0, len(staged))
		for seatID := range staged {
			stagedIDs = append(stagedIDs, seatID)
		}
		sort.Strings(stagedIDs)
		for _, seatID := range stagedIDs {
			key := objstore.FinalKey(r.input.VenueID, seatID)
			var path string
			err := Do(ctx, r.log, r.policies.Fast, "pipeline.persist_image", func(ctx context.Context) error {
				var putErr error
				path, putErr = r.store.Put(ctx, key, staged[seatID])
				return putErr
			})
			if err != nil {
				r.log.Warn("persisting final image failed", "seat", seatID, "error", err)
				failed = append(failed, seatID)
				continue
			}
			paths[seatID] = path
			successes++
		}
		if successes > 0 {
			r.tracker.AddImages(successes)
			r.tracker.AddCost(float64(successes) * perImageCost)
		}

		if r.cancelRequested() {
			break
		}
	}
	sort.Strings(failed)
	return paths, failed
}
