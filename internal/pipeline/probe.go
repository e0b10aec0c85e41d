package pipeline

import (
	"context"

	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/objstore"
)

// The resume probe answers "what can we skip?" from the artifact store
// alone. Any store failure degrades to "nothing exists": the pipeline then
// rebuilds instead of trusting stale state.

// probeModel looks for a previously persisted blend file. Presence is the
// only check; the cached model is not verified against the current surface
// config.
func (r *Runner) probeModel(ctx context.Context) ([]byte, bool) {
	data, err := r.store.Get(ctx, objstore.ModelKey(r.input.VenueID))
	if err != nil {
		if !errkind.IsNotFound(err) {
			r.log.Warn("model probe failed, rebuilding", "venue", r.input.VenueID, "error", err)
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}
	return data, true
}

// probeDepths splits the render set into seats whose depth maps already
// exist in the store and seats that still need rendering.
func (r *Runner) probeDepths(ctx context.Context, renderSet []domain.Seat) (present map[string][]byte, missing []domain.Seat) {
	present = map[string][]byte{}
	keys, err := r.store.List(ctx, objstore.DepthPrefix(r.input.VenueID))
	if err != nil {
		r.log.Warn("depth probe list failed, rendering all", "venue", r.input.VenueID, "error", err)
		return present, renderSet
	}
	persisted := map[string]bool{}
	for _, key := range keys {
		if seatID, ok := objstore.SeatIDFromDepthKey(key); ok {
			persisted[seatID] = true
		}
	}
	for _, seat := range renderSet {
		if !persisted[seat.ID] {
			missing = append(missing, seat)
			continue
		}
		data, err := r.store.Get(ctx, objstore.DepthKey(r.input.VenueID, seat.ID))
		if err != nil || len(data) == 0 {
			missing = append(missing, seat)
			continue
		}
		present[seat.ID] = data
	}
	return present, missing
}

// probeFinalImages lists the final images already persisted for the venue,
// keyed by seat id. The stored key doubles as the opaque artifact path for
// results assembled on resume.
func (r *Runner) probeFinalImages(ctx context.Context) map[string]string {
	existing := map[string]string{}
	keys, err := r.store.List(ctx, objstore.FinalPrefix(r.input.VenueID))
	if err != nil {
		r.log.Warn("final image probe failed, regenerating all", "venue", r.input.VenueID, "error", err)
		return existing
	}
	for _, key := range keys {
		if seatID, ok := objstore.SeatIDFromFinalKey(key); ok {
			existing[seatID] = key
		}
	}
	return existing
}
