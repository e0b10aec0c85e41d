// Package compute talks to the GPU compute service that does the heavy
// lifting: Blender model builds, depth map renders, and AI image synthesis.
// The pipeline only ever sees the Client interface; tests substitute fakes.
package compute

import (
	"context"

	"github.com/sullysaurus/venues/internal/domain"
)

// ModelResult is the output of a venue model build.
type ModelResult struct {
	BlendFile []byte
	Preview   []byte
}

// ImageRequest carries everything one AI image synthesis call needs.
type ImageRequest struct {
	SeatID         string
	DepthMap       []byte
	Prompt         string
	Model          string
	Strength       float64
	IPAdapterScale float64
	ReferenceImage []byte
}

type Client interface {
	// BuildVenueModel builds the 3D venue model from section specs and
	// returns the blend file plus a rendered preview.
	BuildVenueModel(ctx context.Context, venueID string, sections []domain.SectionSpec, surface domain.SurfaceConfig) (*ModelResult, error)
	// RenderDepthMaps renders one depth map per seat from the blend file,
	// keyed by seat id.
	RenderDepthMaps(ctx context.Context, blend []byte, seats []domain.Seat) (map[string][]byte, error)
	// GenerateImage synthesizes the final seat-view image for one seat.
	GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error)
}
