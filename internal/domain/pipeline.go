package domain

import (
	"fmt"
	"strings"
)

// Stage is the pipeline state machine. Transitions are strictly forward;
// Completed/Failed/Cancelled are terminal.
type Stage string

const (
	StagePending          Stage = "pending"
	StageGeneratingSeats  Stage = "generating_seats"
	StageBuildingModel    Stage = "building_model"
	StageRenderingDepths  Stage = "rendering_depths"
	StageGeneratingImages Stage = "generating_images"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
	StageCancelled        Stage = "cancelled"
)

func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageCancelled:
		return true
	default:
		return false
	}
}

// Order positions a stage in the forward order of the machine. Terminal
// stages share the highest slot so monotonicity checks stay simple.
func (s Stage) Order() int {
	switch s {
	case StagePending:
		return 0
	case StageGeneratingSeats:
		return 1
	case StageBuildingModel:
		return 2
	case StageRenderingDepths:
		return 3
	case StageGeneratingImages:
		return 4
	default:
		return 5
	}
}

// SectionSpec describes one seating section of a venue.
type SectionSpec struct {
	Tier        string  `json:"tier"` // floor|lower|mid|upper|club
	Angle       float64 `json:"angle"`
	InnerRadius float64 `json:"inner_radius"`
	Rows        int     `json:"rows"`
	RowDepth    float64 `json:"row_depth"`
	RowRise     float64 `json:"row_rise"`
	BaseHeight  float64 `json:"base_height"`
}

// SurfaceConfig describes the playing surface at the venue center.
type SurfaceConfig struct {
	SurfaceType string         `json:"surface_type"` // rink|court|stage|field
	Length      float64        `json:"length,omitempty"`
	Width       float64        `json:"width,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Seat is a derived seat position. Coordinates are meters from the surface
// center, rounded to 3 decimals; LookAngle is degrees toward the center,
// rounded to 2 decimals.
type Seat struct {
	ID        string  `json:"id"`
	Section   string  `json:"section"`
	Row       string  `json:"row"`
	Seat      int     `json:"seat"`
	Tier      string  `json:"tier"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	LookAngle float64 `json:"look_angle"`
}

// PipelineInput is the immutable input snapshot captured at start.
type PipelineInput struct {
	VenueID string `json:"venue_id"`

	Sections           map[string]SectionSpec `json:"sections"`
	SelectedSectionIDs []string               `json:"selected_section_ids,omitempty"`
	CustomSeats        []string               `json:"custom_seats,omitempty"`
	Surface            SurfaceConfig          `json:"surface_config"`

	// AI generation settings.
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model"` // flux|sdxl|controlnet|ip_adapter
	Strength       float64 `json:"strength"`
	ReferenceImage []byte  `json:"reference_image,omitempty"`
	IPAdapterScale float64 `json:"ip_adapter_scale"`

	// Execution controls.
	StopAfterModel   bool `json:"stop_after_model"`
	StopAfterDepths  bool `json:"stop_after_depths"`
	SkipAIGeneration bool `json:"skip_ai_generation"`
	SkipModelBuild   bool `json:"skip_model_build"`
	SkipDepthRender  bool `json:"skip_depth_render"`

	DepthBatchSize         int `json:"depth_batch_size"`
	ParallelImageBatchSize int `json:"parallel_image_batch_size"`
}

const (
	DefaultPrompt                 = "Arena view, empty arena"
	DefaultModel                  = "flux"
	DefaultStrength               = 0.75
	DefaultIPAdapterScale         = 0.6
	DefaultDepthBatchSize         = 10
	DefaultParallelImageBatchSize = 5
)

// ApplyDefaults fills unset optional fields in place.
func (in *PipelineInput) ApplyDefaults() {
	if strings.TrimSpace(in.Prompt) == "" {
		in.Prompt = DefaultPrompt
	}
	if strings.TrimSpace(in.Model) == "" {
		in.Model = DefaultModel
	}
	if in.Strength <= 0 {
		in.Strength = DefaultStrength
	}
	if in.IPAdapterScale <= 0 {
		in.IPAdapterScale = DefaultIPAdapterScale
	}
	if in.DepthBatchSize <= 0 {
		in.DepthBatchSize = DefaultDepthBatchSize
	}
	if in.ParallelImageBatchSize <= 0 {
		in.ParallelImageBatchSize = DefaultParallelImageBatchSize
	}
}

func (in *PipelineInput) Validate() error {
	if strings.TrimSpace(in.VenueID) == "" {
		return fmt.Errorf("venue_id is required")
	}
	if len(in.Sections) == 0 {
		return fmt.Errorf("at least one section is required")
	}
	for id, s := range in.Sections {
		if s.Rows < 1 {
			return fmt.Errorf("section %q: rows must be positive", id)
		}
		if s.Angle < -180 || s.Angle > 180 {
			return fmt.Errorf("section %q: angle must be in [-180,180]", id)
		}
		if s.InnerRadius <= 0 {
			return fmt.Errorf("section %q: inner_radius must be positive", id)
		}
	}
	switch in.Model {
	case "flux", "sdxl", "controlnet", "ip_adapter":
	default:
		return fmt.Errorf("unknown model %q", in.Model)
	}
	return nil
}

// FilteredSections returns the sections narrowed by SelectedSectionIDs,
// or all sections when no filter is set.
func (in *PipelineInput) FilteredSections() map[string]SectionSpec {
	if len(in.SelectedSectionIDs) == 0 {
		return in.Sections
	}
	out := make(map[string]SectionSpec, len(in.SelectedSectionIDs))
	for _, id := range in.SelectedSectionIDs {
		if s, ok := in.Sections[id]; ok {
			out[id] = s
		}
	}
	return out
}

// ProgressSnapshot is a point-in-time copy of a run's progress, safe to
// hand to external callers. Counters are non-decreasing while the run is
// non-terminal.
type ProgressSnapshot struct {
	Stage       Stage  `json:"stage"`
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	Message     string `json:"message"`
	CurrentItem string `json:"current_item,omitempty"`

	SeatsGenerated    int `json:"seats_generated"`
	DepthMapsRendered int `json:"depth_maps_rendered"`
	ImagesGenerated   int `json:"images_generated"`

	FailedItems []string `json:"failed_items"`

	EstimatedCost float64 `json:"estimated_cost"`
	ActualCost    float64 `json:"actual_cost"`
}

// PipelineResult is the terminal outcome of one run.
type PipelineResult struct {
	RunID   string `json:"run_id"`
	VenueID string `json:"venue_id"`
	Success bool   `json:"success"`

	AllSeatsCount    int `json:"all_seats_count"`
	AnchorSeatsCount int `json:"anchor_seats_count"`

	DepthMapsRendered int      `json:"depth_maps_rendered"`
	DepthMapPaths     []string `json:"depth_map_paths"`

	ImagesGenerated int      `json:"images_generated"`
	ImagePaths      []string `json:"image_paths"`
	FailedSeats     []string `json:"failed_seats"`

	TotalCost     float64            `json:"total_cost"`
	CostBreakdown map[string]float64 `json:"cost_breakdown,omitempty"`

	DurationSeconds float64 `json:"duration_seconds"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// Cost units per operation, USD.
const (
	CostSeats              = 0.001
	CostModelBuild         = 0.05
	CostDepthRenderPerSeat = 0.02
)

// CostPerImage returns the per-image synthesis cost for a generator model.
func CostPerImage(model string) float64 {
	switch model {
	case "flux":
		return 0.035
	case "sdxl":
		return 0.015
	case "controlnet":
		return 0.008
	case "ip_adapter":
		return 0.02
	default:
		return 0.02
	}
}
